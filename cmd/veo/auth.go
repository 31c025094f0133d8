package main

import (
	"os"

	"github.com/spf13/cobra"
)

const passwordEnv = "VEO_PASSWORD"

// credentials takes the password from VEO_PASSWORD or asks for it.
func (a *app) credentials(email string) (string, string, error) {
	var err error
	if email == "" {
		if email, err = a.prompt.Input("Email", false); err != nil {
			return "", "", err
		}
	}
	password := os.Getenv(passwordEnv)
	if password == "" {
		if password, err = a.prompt.Input("Password", true); err != nil {
			return "", "", err
		}
	}
	return email, password, nil
}

func (a *app) signUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signup [email]",
		Short: "Create an account",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := a.credentials(firstArg(args))
			if err != nil {
				return err
			}
			if err := a.auth.SignUp(cmd.Context(), email, password); err != nil {
				return err
			}
			a.printf("Account created for %s. Run `veo signin` to start.\n", email)
			return nil
		},
	}
}

func (a *app) signInCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signin [email]",
		Short: "Sign in and remember the session",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			email, password, err := a.credentials(firstArg(args))
			if err != nil {
				return err
			}
			s, err := a.auth.SignIn(cmd.Context(), email, password)
			if err != nil {
				return err
			}
			a.printf("Signed in as %s.\n", s.Email)
			return nil
		},
	}
}

func (a *app) signOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Sign out and forget the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.auth.SignOut(cmd.Context()); err != nil {
				return err
			}
			a.printf("Signed out.\n")
			return nil
		},
	}
}

func (a *app) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s := a.auth.Session()
			if s == nil {
				return errNotSignedIn
			}
			a.printf("%s\n", s.Email)
			return nil
		},
	}
}

func firstArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}
