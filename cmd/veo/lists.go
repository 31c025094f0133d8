package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/ytakahashi/veo-lists/internal/store"
)

func (a *app) listsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lists",
		Short: "Show your lists, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			lists := sess.Lists().Lists()
			if len(lists) == 0 {
				a.printf("No lists yet. Add one with `veo list add <name>`.\n")
				return nil
			}
			for i, l := range lists {
				a.printf("%2d. %s\n", i+1, l.Name)
			}
			return nil
		},
	}
}

func (a *app) listCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Add, rename or remove a list",
	}

	var yes bool
	rm := &cobra.Command{
		Use:   "rm <list#>",
		Short: "Remove a list and all of its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := position(args[0])
			if err != nil {
				return err
			}
			sess, err := a.session(cmd.Context())
			if err != nil {
				return err
			}
			defer sess.Close()

			name, err := listName(sess, n)
			if err != nil {
				return err
			}
			res, err := sess.Lists().Delete(cmd.Context(), n-1, a.confirmer(yes)).Wait(cmd.Context())
			if err != nil {
				return err
			}
			if res.Skipped {
				a.printf("Kept %s.\n", quote(name))
				return nil
			}
			a.printf("Removed %s.\n", quote(name))
			return nil
		},
	}
	rm.Flags().BoolVarP(&yes, "yes", "y", false, "do not ask for confirmation")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <name>",
			Short: "Add a list at the top",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				sess, err := a.session(cmd.Context())
				if err != nil {
					return err
				}
				defer sess.Close()

				name := strings.Join(args, " ")
				if _, err := sess.Lists().Insert(cmd.Context(), name).Wait(cmd.Context()); err != nil {
					return err
				}
				a.printf("Added %s.\n", quote(strings.TrimSpace(name)))
				return nil
			},
		},
		&cobra.Command{
			Use:   "rename <list#> <name>",
			Short: "Rename a list",
			Args:  cobra.MinimumNArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				n, err := position(args[0])
				if err != nil {
					return err
				}
				sess, err := a.session(cmd.Context())
				if err != nil {
					return err
				}
				defer sess.Close()

				if _, err := listName(sess, n); err != nil {
					return err
				}
				name := strings.Join(args[1:], " ")
				if _, err := sess.Lists().Rename(cmd.Context(), n-1, name).Wait(cmd.Context()); err != nil {
					return err
				}
				a.printf("Renamed list #%d to %s.\n", n, quote(strings.TrimSpace(name)))
				return nil
			},
		},
		rm,
	)
	return cmd
}

// position parses a 1-based position.
func position(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid position %q", s)
	}
	return n, nil
}

func listName(sess *store.Session, n int) (string, error) {
	lists := sess.Lists().Lists()
	if n > len(lists) {
		return "", fmt.Errorf("no list #%d", n)
	}
	return lists[n-1].Name, nil
}
