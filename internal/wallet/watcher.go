package wallet

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/fsnotify/fsnotify"
	"github.com/invar/vault/internal/logging"
	"github.com/invar/vault/internal/util"
)

// debounce groups the burst of events a key file write produces.
const debounce = 100 * time.Millisecond

// Watch reports the wallet account of dir whenever it changes: a key file
// added, replaced or removed. The zero address means no account is left.
// The channel is closed when ctx is done.
func Watch(ctx context.Context, dir string) (<-chan common.Address, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create keystore directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	current := firstAccount(dir)
	out := make(chan common.Address)

	util.SafeGoWithName("wallet-watcher", func() {
		defer close(out)
		defer watcher.Close()

		var timer <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
					event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
					timer = time.After(debounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logging.Warn("keystore watcher error", logging.Err(err), logging.Component("wallet"))
			case <-timer:
				timer = nil
				next := firstAccount(dir)
				if next == current {
					continue
				}
				current = next
				logging.Info("wallet account changed", logging.Address(next), logging.Component("wallet"))
				select {
				case out <- next:
				case <-ctx.Done():
					return
				}
			}
		}
	})

	return out, nil
}

func firstAccount(dir string) common.Address {
	accounts, err := Accounts(dir)
	if err != nil || len(accounts) == 0 {
		return common.Address{}
	}
	return accounts[0].Address
}
