package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Tyrowin/roomchat/internal/auth"
	"github.com/Tyrowin/roomchat/internal/domain"
)

func newUserCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage chat users",
	}

	var email string
	add := &cobra.Command{
		Use:   "add <username>",
		Short: "Create a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(st, a.log)

			user, err := st.CreateUser(cmd.Context(), args[0], email)
			if errors.Is(err, domain.ErrAlreadyExists) {
				return fmt.Errorf("user %q already exists", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created user %d %s\n", user.ID, user.Username)
			return nil
		},
	}
	add.Flags().StringVar(&email, "email", "", "email address")

	cmd.AddCommand(add)
	return cmd
}

func newRoomCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "room",
		Short: "Manage chat rooms",
	}

	var owner string
	add := &cobra.Command{
		Use:   "add <name>",
		Short: "Create a room owned by an existing user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(st, a.log)

			user, err := st.UserByUsername(cmd.Context(), owner)
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("owner %q not found", owner)
			}
			if err != nil {
				return err
			}

			room, err := st.CreateRoom(cmd.Context(), args[0], user.ID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created room %d %s\n", room.ID, room.Name)
			return nil
		},
	}
	add.Flags().StringVar(&owner, "owner", "", "username of the room creator")
	_ = add.MarkFlagRequired("owner")

	cmd.AddCommand(add)
	return cmd
}

func newTokenCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and revoke access tokens",
	}

	issue := &cobra.Command{
		Use:   "issue <username>",
		Short: "Print a signed access token for a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			authCfg, err := auth.LoadConfigFromEnv()
			if err != nil {
				return err
			}
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(st, a.log)

			if _, err := st.UserByUsername(cmd.Context(), args[0]); err != nil {
				if errors.Is(err, domain.ErrNotFound) {
					return fmt.Errorf("user %q not found", args[0])
				}
				return err
			}

			token, expiresAt, err := auth.NewIssuer(authCfg.SecretKey, authCfg.TokenTTL, nil).Issue(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke <token>",
		Short: "Revoke an access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeStore(st, a.log)

			if err := auth.NewRevoker(st).RevokeToken(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "token revoked")
			return nil
		},
	}

	cmd.AddCommand(issue, revoke)
	return cmd
}
