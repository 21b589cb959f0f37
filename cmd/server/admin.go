package main

import (
	"fmt"

	"github.com/rongwang/cryptotrace-server/internal/models"
	"github.com/spf13/cobra"
)

// operator acts for commands run on the server host. It has no user row,
// so audit events it writes carry no actor.
var operator = models.Principal{Role: models.RoleSuperAdmin}

var (
	adminEmail    string
	adminName     string
	adminPassword string
)

var bootstrapAdminCmd = &cobra.Command{
	Use:   "bootstrap-admin",
	Short: "Create the first super admin account",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		user, err := a.svc.BootstrapAdmin(cmd.Context(), adminEmail, adminName, adminPassword)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created super admin %s (%s)\n", user.Email, user.ID)
		return nil
	},
}

var (
	tokenRole       string
	tokenDepartment string
	tokenTTLHours   int
)

var signupTokenCmd = &cobra.Command{
	Use:   "signup-token",
	Short: "Manage staff signup tokens",
}

var signupTokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a single-use staff signup token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		resp, err := a.svc.IssueSignupToken(cmd.Context(), operator, models.IssueSignupTokenRequest{
			Role:       models.Role(tokenRole),
			Department: tokenDepartment,
			TTLHours:   tokenTTLHours,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nexpires %s\n", resp.Token, resp.SignupToken.ExpiresAt.Format("2006-01-02 15:04 MST"))
		return nil
	},
}

var (
	deptName   string
	deptEmail  string
	deptBudget int64
)

var departmentCmd = &cobra.Command{
	Use:   "department",
	Short: "Manage police departments",
}

var departmentCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Register a department and print its intake API key",
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := newApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		req := models.CreateDepartmentRequest{Name: deptName, ContactEmail: deptEmail}
		if cmd.Flags().Changed("budget-cents") {
			req.MonthlyBudgetCents = &deptBudget
		}
		resp, err := a.svc.CreateDepartment(cmd.Context(), operator, req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "department %s (%s)\napi key: %s\n", resp.Department.Name, resp.Department.ID, resp.APIKey)
		return nil
	},
}

func init() {
	bootstrapAdminCmd.Flags().StringVar(&adminEmail, "email", "", "Admin email")
	bootstrapAdminCmd.Flags().StringVar(&adminName, "name", "", "Admin display name")
	bootstrapAdminCmd.Flags().StringVar(&adminPassword, "password", "", "Admin password")
	_ = bootstrapAdminCmd.MarkFlagRequired("email")
	_ = bootstrapAdminCmd.MarkFlagRequired("password")

	signupTokenIssueCmd.Flags().StringVar(&tokenRole, "role", string(models.RoleOfficer), "Role the token grants (officer or admin)")
	signupTokenIssueCmd.Flags().StringVar(&tokenDepartment, "department", "", "Department the account joins (required)")
	signupTokenIssueCmd.Flags().IntVar(&tokenTTLHours, "ttl-hours", 0, "Token lifetime in hours (default from config)")
	signupTokenCmd.AddCommand(signupTokenIssueCmd)

	departmentCreateCmd.Flags().StringVar(&deptName, "name", "", "Department name")
	departmentCreateCmd.Flags().StringVar(&deptEmail, "contact-email", "", "Contact email")
	departmentCreateCmd.Flags().Int64Var(&deptBudget, "budget-cents", 0, "Monthly premium budget in cents")
	_ = departmentCreateCmd.MarkFlagRequired("name")
	_ = departmentCreateCmd.MarkFlagRequired("contact-email")
	departmentCmd.AddCommand(departmentCreateCmd)
}
