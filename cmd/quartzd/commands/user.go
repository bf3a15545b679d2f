package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/manifoldco/promptui"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/quartzfs/quartz/pkg/config"
	"github.com/quartzfs/quartz/pkg/store/users"
)

// newUserCommand builds the "user" command group: account management
// against the same database the server uses. The server does not need to
// be running.
func newUserCommand() *cobra.Command {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage user accounts",
		Long: `Manage user accounts in the Quartz accounts database.

Accounts can also be created over the wire with CREATE_ACCOUNT; this
command group exists for administration without a client, and it is the
only way to create admin accounts.`,
	}

	userCmd.AddCommand(
		newUserAddCommand(),
		newUserListCommand(),
		newUserPasswdCommand(),
		newUserDeleteCommand(),
	)
	return userCmd
}

// withUserStore loads the configuration and opens the accounts database
// around fn.
func withUserStore(fn func(ctx context.Context, store *users.Store) error) error {
	cfg, err := config.MustLoad(cfgFile)
	if err != nil {
		return err
	}

	store, err := users.Open(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to open user store: %w", err)
	}
	defer store.Close()

	return fn(context.Background(), store)
}

// promptPassword reads a password from the terminal without echo, with
// confirmation.
func promptPassword() (string, error) {
	prompt := promptui.Prompt{
		Label: "Password",
		Mask:  '*',
		Validate: func(input string) error {
			return users.ValidatePassword(input)
		},
	}
	password, err := prompt.Run()
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}

	confirmPrompt := promptui.Prompt{
		Label: "Confirm password",
		Mask:  '*',
	}
	confirm, err := confirmPrompt.Run()
	if err != nil {
		return "", fmt.Errorf("failed to read password confirmation: %w", err)
	}

	if password != confirm {
		return "", fmt.Errorf("passwords do not match")
	}
	return password, nil
}

func newUserAddCommand() *cobra.Command {
	var email string
	var admin bool

	cmd := &cobra.Command{
		Use:   "add <username>",
		Short: "Add a new user (prompts for password)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			password, err := promptPassword()
			if err != nil {
				return err
			}

			role := users.RoleUser
			if admin {
				role = users.RoleAdmin
			}

			return withUserStore(func(ctx context.Context, store *users.Store) error {
				user, err := store.Create(ctx, username, password, email, role)
				if err != nil {
					return fmt.Errorf("failed to create user: %w", err)
				}
				fmt.Printf("User %q created (ID: %s, role: %s)\n", user.Username, user.ID, user.Role)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Email address")
	cmd.Flags().BoolVar(&admin, "admin", false, "Grant the admin role")
	return cmd
}

func newUserListCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List all users",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withUserStore(func(ctx context.Context, store *users.Store) error {
				all, err := store.List(ctx)
				if err != nil {
					return fmt.Errorf("failed to list users: %w", err)
				}
				if len(all) == 0 {
					fmt.Println("No users registered")
					return nil
				}

				table := tablewriter.NewWriter(os.Stdout)
				table.SetHeader([]string{"Username", "Role", "Enabled", "Email", "Last Login"})
				table.SetAutoWrapText(false)
				table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
				table.SetAlignment(tablewriter.ALIGN_LEFT)
				table.SetCenterSeparator("")
				table.SetColumnSeparator("")
				table.SetRowSeparator("")
				table.SetHeaderLine(false)
				table.SetBorder(false)
				table.SetTablePadding("  ")
				table.SetNoWhiteSpace(true)

				for _, u := range all {
					enabled := "yes"
					if !u.Enabled {
						enabled = "no"
					}
					email := u.Email
					if email == "" {
						email = "-"
					}
					lastLogin := "never"
					if u.LastLogin != nil {
						lastLogin = u.LastLogin.Format("2006-01-02 15:04")
					}
					table.Append([]string{u.Username, string(u.Role), enabled, email, lastLogin})
				}
				table.Render()
				return nil
			})
		},
	}
}

func newUserPasswdCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "passwd <username>",
		Aliases: []string{"password"},
		Short:   "Change a user's password",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			password, err := promptPassword()
			if err != nil {
				return err
			}

			return withUserStore(func(ctx context.Context, store *users.Store) error {
				user, err := store.GetByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %q not found", username)
				}
				if err := store.SetPassword(ctx, user.ID, password); err != nil {
					return fmt.Errorf("failed to change password: %w", err)
				}
				fmt.Printf("Password changed for user %q\n", username)
				return nil
			})
		},
	}
}

func newUserDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "delete <username>",
		Aliases: []string{"remove"},
		Short:   "Delete a user",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			username := args[0]

			return withUserStore(func(ctx context.Context, store *users.Store) error {
				user, err := store.GetByUsername(ctx, username)
				if err != nil {
					return fmt.Errorf("user %q not found", username)
				}
				if err := store.Delete(ctx, user.ID); err != nil {
					return fmt.Errorf("failed to delete user: %w", err)
				}
				fmt.Printf("User %q deleted\n", username)
				return nil
			})
		},
	}
}
