package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/veo-lists/internal/store"
)

// withItems runs fn with the items of the list at the 1-based position in
// args[0].
func (a *app) withItems(ctx context.Context, arg string, fn func(*store.ItemStore) error) error {
	n, err := position(arg)
	if err != nil {
		return err
	}
	sess, err := a.session(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	items, err := a.openList(ctx, sess, n)
	if err != nil {
		return err
	}
	return fn(items)
}

func (a *app) itemsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "items <list#>",
		Short: "Show the items of a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withItems(cmd.Context(), args[0], func(items *store.ItemStore) error {
				all := items.Items()
				if len(all) == 0 {
					a.printf("The list is empty.\n")
					return nil
				}
				for i, item := range all {
					mark := "[ ]"
					if item.Done {
						mark = "[x]"
					}
					a.printf("%2d. %s %s\n", i+1, mark, item.Text)
				}
				return nil
			})
		},
	}
}

func (a *app) itemCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "item",
		Short: "Add, rename, complete or remove an item",
	}

	var undone bool
	done := &cobra.Command{
		Use:   "done <list#> <item#>",
		Short: "Mark an item as done",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withItems(ctx, args[0], func(items *store.ItemStore) error {
				n, err := itemPosition(items, args[1])
				if err != nil {
					return err
				}
				if _, err := items.SetDone(ctx, n-1, !undone).Wait(ctx); err != nil {
					return err
				}
				if undone {
					a.printf("Marked #%d as not done.\n", n)
				} else {
					a.printf("Marked #%d as done.\n", n)
				}
				return nil
			})
		},
	}
	done.Flags().BoolVar(&undone, "undo", false, "mark the item as not done")

	var noUndo bool
	rm := &cobra.Command{
		Use:   "rm <list#> <item#>",
		Short: "Remove an item, offering to undo it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return a.withItems(ctx, args[0], func(items *store.ItemStore) error {
				n, err := itemPosition(items, args[1])
				if err != nil {
					return err
				}
				if _, err := items.Delete(ctx, n-1).Wait(ctx); err != nil {
					return err
				}
				rec, pending := items.PendingUndo()
				if !pending {
					a.printf("Removed #%d.\n", n)
					return nil
				}
				a.printf("Removed %s.\n", quote(rec.Item.Text))
				if noUndo {
					items.DismissUndo()
					return nil
				}
				return a.offerUndo(ctx, items, rec)
			})
		},
	}
	rm.Flags().BoolVar(&noUndo, "no-undo", false, "do not offer to undo")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <list#> <text>",
			Short: "Add an item at the top of a list",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				return a.withItems(ctx, args[0], func(items *store.ItemStore) error {
					text := strings.Join(args[1:], " ")
					if _, err := items.Insert(ctx, text).Wait(ctx); err != nil {
						return err
					}
					a.printf("Added %s.\n", quote(strings.TrimSpace(text)))
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "rename <list#> <item#> <text>",
			Short: "Change the text of an item",
			Args:  cobra.MinimumNArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				ctx := cmd.Context()
				return a.withItems(ctx, args[0], func(items *store.ItemStore) error {
					n, err := itemPosition(items, args[1])
					if err != nil {
						return err
					}
					text := strings.Join(args[2:], " ")
					if _, err := items.Rename(ctx, n-1, text).Wait(ctx); err != nil {
						return err
					}
					a.printf("Renamed #%d to %s.\n", n, quote(strings.TrimSpace(text)))
					return nil
				})
			},
		},
		done,
		rm,
	)
	return cmd
}

// offerUndo asks whether to restore rec while the undo window is open.
func (a *app) offerUndo(ctx context.Context, items *store.ItemStore, rec store.UndoRecord) error {
	restore, err := a.prompt.Confirm("Undo?")
	if err != nil || !restore {
		items.DismissUndo()
		return err
	}
	res, err := items.Undo(ctx).Wait(ctx)
	if err != nil {
		return err
	}
	if res.Skipped {
		a.printf("Too late, %s is gone.\n", quote(rec.Item.Text))
		return nil
	}
	a.printf("Restored %s.\n", quote(rec.Item.Text))
	return nil
}

func itemPosition(items *store.ItemStore, arg string) (int, error) {
	n, err := position(arg)
	if err != nil {
		return 0, err
	}
	if n > len(items.Items()) {
		return 0, fmt.Errorf("no item #%d", n)
	}
	return n, nil
}
