package commands

import (
	"fmt"
	"io"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/invar/vault/internal/navigator"
)

func NewNavigatorCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "navigator [mint|stake]",
		Short:     "Choose between minting and staking",
		Long:      "Show the landing choices. Pass a choice to skip the selection.",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{navigator.ChoiceMint, navigator.ChoiceStake},
		RunE: func(cmd *cobra.Command, args []string) error {
			choice := ""
			if len(args) == 1 {
				choice = args[0]
			}
			return runNavigator(cmd, choice)
		},
	}
}

// runNavigator asks for a choice when none is given and follows it.
func runNavigator(cmd *cobra.Command, choice string) error {
	if choice == "" {
		if !isTTY() {
			printChoices(cmd.OutOrStdout())
			return nil
		}
		var err error
		if choice, err = selectChoice(); err != nil {
			return err
		}
	}

	c, ok := navigator.Lookup(choice)
	if !ok {
		return fmt.Errorf("unknown choice %q (want %s or %s)", choice, navigator.ChoiceMint, navigator.ChoiceStake)
	}

	switch c.ID {
	case navigator.ChoiceMint:
		return showMint(cmd.OutOrStdout())
	default:
		return runSession(cmd, "", nil)
	}
}

func selectChoice() (string, error) {
	var choice string
	options := make([]huh.Option[string], 0, 2)
	for _, c := range navigator.Choices() {
		options = append(options, huh.NewOption(c.Title+" - "+c.Description, c.ID))
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("InVar Test Website").
				Options(options...).
				Value(&choice),
		),
	).WithTheme(huh.ThemeBase())

	if err := form.Run(); err != nil {
		return "", err
	}
	return choice, nil
}

func printChoices(w io.Writer) {
	fmt.Fprintln(w, "InVar Test Website")
	for _, c := range navigator.Choices() {
		fmt.Fprintf(w, "\n  %-6s %s (%s)\n         %s\n", c.ID, c.Title, c.Route, c.Description)
	}
	fmt.Fprintln(w, "\nRun: invar navigator <mint|stake>")
}

func showMint(w io.Writer) error {
	url := currentConfig().Web.MintURL
	if url == "" {
		fmt.Fprintln(w, "Minting is not configured (set web.mint_url or INVAR_MINT_URL).")
		return nil
	}
	fmt.Fprintf(w, "Mint a new NFT at %s\n", url)
	return nil
}
