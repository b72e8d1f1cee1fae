// Package navigator holds the landing page choices and their routes.
package navigator

import "fmt"

const (
	ChoiceMint  = "mint"
	ChoiceStake = "stake"

	RouteHome  = "/"
	RouteMint  = "/mint"
	RouteStake = "/stake"
)

// Choice is one option of the landing page.
type Choice struct {
	ID          string
	Title       string
	Description string
	Route       string
}

var choices = []Choice{
	{
		ID:          ChoiceMint,
		Title:       "Mint a new NFT",
		Description: "Use the NFT Drop Contract to claim an NFT from the collection.",
		Route:       RouteMint,
	},
	{
		ID:          ChoiceStake,
		Title:       "Stake Your USDC",
		Description: "Use the custom staking contract to stake your USDC, and earn tokens from the Token contract.",
		Route:       RouteStake,
	},
}

// Choices returns the landing page options in display order.
func Choices() []Choice {
	return append([]Choice(nil), choices...)
}

// Lookup finds a choice by ID.
func Lookup(id string) (Choice, bool) {
	for _, c := range choices {
		if c.ID == id {
			return c, true
		}
	}
	return Choice{}, false
}

// Route returns the route a choice navigates to.
func Route(id string) (string, error) {
	c, ok := Lookup(id)
	if !ok {
		return "", fmt.Errorf("unknown choice %q", id)
	}
	return c.Route, nil
}
