package cmd

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/inventoryctl/pkg/output"
	"github.com/3leaps/inventoryctl/pkg/session"
)

var companyCmd = &cobra.Command{
	Use:   "company",
	Short: "Manage companies and the active company",
	Long: `A user can belong to several companies with a separate role in each.
Every API request is made for the active company.`,
}

var companyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your companies; the active one is marked with *",
	Args:  cobra.NoArgs,
	RunE:  runCompanyList,
}

var companyUseCmd = &cobra.Command{
	Use:   "use <company_id>",
	Short: "Switch the active company",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompanyUse,
}

var companyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the active company and its members",
	Args:  cobra.NoArgs,
	RunE:  runCompanyShow,
}

var companyCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a company and make it active",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompanyCreate,
}

var companyInviteCmd = &cobra.Command{
	Use:   "invite <email>",
	Short: "Add a registered user to the active company (admin only)",
	Args:  cobra.ExactArgs(1),
	RunE:  runCompanyInvite,
}

var inviteRole string

func init() {
	rootCmd.AddCommand(companyCmd)
	companyCmd.AddCommand(companyListCmd, companyUseCmd, companyShowCmd, companyCreateCmd, companyInviteCmd)

	companyInviteCmd.Flags().StringVar(&inviteRole, "role", string(session.RoleMember), "Role in the company: admin or member")
}

type companyRow struct {
	session.Membership
	Active bool `json:"active"`
}

func runCompanyList(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.requireLogin(); err != nil {
		return err
	}
	snap := a.store.Snapshot()

	rows := make([]companyRow, 0, len(snap.User.Companies))
	for _, m := range snap.User.Companies {
		active := snap.ActiveCompanyID != nil && *snap.ActiveCompanyID == m.ID
		rows = append(rows, companyRow{Membership: m, Active: active})
	}
	return a.printer.Print(rows, func() output.Table {
		t := output.Table{Header: []string{"", "id", "name", "role"}}
		for _, r := range rows {
			mark := ""
			if r.Active {
				mark = "*"
			}
			t.AddRow(mark, r.ID, r.Name, r.Role)
		}
		return t
	})
}

func runCompanyUse(cmd *cobra.Command, args []string) error {
	id, err := parseID("company id", args[0])
	if err != nil {
		return err
	}

	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.requireLogin(); err != nil {
		return err
	}
	if err := a.store.SetActiveCompany(cmd.Context(), id); err != nil {
		if errors.Is(err, session.ErrCompanyNotMember) {
			return exitError(foundry.ExitInvalidArgument, "Cannot switch company", err)
		}
		return err
	}

	m, _ := a.store.Snapshot().ActiveCompany()
	return a.printer.Message("Active company: %s (id %d).", m.Name, m.ID)
}

func runCompanyShow(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	details, err := a.client.CompanyDetails(cmd.Context())
	if err != nil {
		return apiFailure("Failed to load company", err)
	}
	return a.printer.Print(details, func() output.Table {
		t := output.Table{Header: []string{"member", "role", "active"}}
		for _, m := range details.Members {
			t.AddRow(m.Email, m.Role, m.IsActive)
		}
		return t
	})
}

func runCompanyCreate(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if err := a.requireLogin(); err != nil {
		return err
	}
	ctx := cmd.Context()

	created, err := a.client.CreateCompany(ctx, args[0])
	if err != nil {
		return requestFailure("Failed to create company", err)
	}
	if _, err := a.client.RefreshSession(ctx); err != nil {
		return apiFailure(fmt.Sprintf("Company %d created but the profile could not be refreshed", created.ID), err)
	}
	if err := a.store.SetActiveCompany(ctx, created.ID); err != nil {
		a.logger.Warn("New company is not among the refreshed memberships",
			zap.Int64("company_id", created.ID), zap.Error(err))
	}
	return a.printer.Message("Company %s created (id %d) and set active.", created.Name, created.ID)
}

func runCompanyInvite(cmd *cobra.Command, args []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if _, err := a.requireCompany(); err != nil {
		return err
	}
	invited, err := a.client.InviteUser(cmd.Context(), args[0], session.Role(inviteRole))
	if err != nil {
		return requestFailure("Failed to invite user", err)
	}
	return a.printer.Message("Added %s as %s.", invited.Email, inviteRole)
}

func parseID(what, s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, exitError(foundry.ExitInvalidArgument, "Invalid "+what, fmt.Errorf("%q is not a positive integer", s))
	}
	return id, nil
}
