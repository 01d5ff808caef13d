// Command controllerctl is a scriptable operator CLI for controllerd's
// control-plane API (pkg/controlapi, spec.md §6): create/inspect/delete
// projects and services, list and manage deployments. Grounded on
// cmd/warren's cobra command tree (one noun-verb subcommand per resource,
// a shared --manager-style connection flag), adapted from warren's gRPC
// client.Client to a thin net/http client against controllerd's REST API.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "controllerctl",
	Short:   "controllerctl talks to a running controllerd's control-plane API",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("controllerctl version %s\nCommit: %s\n", Version, Commit))
	rootCmd.PersistentFlags().String("addr", "http://127.0.0.1:7070", "controllerd control API address")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("CONTROLLER_API_KEY"), "bearer API key (defaults to $CONTROLLER_API_KEY)")
	rootCmd.PersistentFlags().String("admin-secret", os.Getenv("CONTROLLER_ADMIN_SECRET"), "admin secret, bypasses per-account capability checks (defaults to $CONTROLLER_ADMIN_SECRET)")

	rootCmd.AddCommand(projectCmd)
	rootCmd.AddCommand(serviceCmd)
	rootCmd.AddCommand(deploymentCmd)
	rootCmd.AddCommand(domainCmd)
}

// client is a thin wrapper over net/http carrying the auth header every
// request needs; pkg/controlapi's middleware accepts either scheme
// (spec.md §6 "Authentication").
type client struct {
	addr        string
	apiKey      string
	adminSecret string
	http        *http.Client
}

func clientFromFlags(cmd *cobra.Command) *client {
	addr, _ := cmd.Flags().GetString("addr")
	apiKey, _ := cmd.Flags().GetString("api-key")
	adminSecret, _ := cmd.Flags().GetString("admin-secret")
	return &client{addr: addr, apiKey: apiKey, adminSecret: adminSecret, http: &http.Client{Timeout: 30 * time.Second}}
}

func (c *client) do(method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.addr+path, reader)
	if err != nil {
		return nil, err
	}
	if c.adminSecret != "" {
		req.Header.Set("X-Shuttle-Admin-Secret", c.adminSecret)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return c.http.Do(req)
}

// decode prints resp's body as indented JSON if it parses, or raw text
// otherwise, and returns an error for non-2xx statuses.
func decode(resp *http.Response) error {
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s: %s", resp.Status, string(raw))
	}
	if len(raw) == 0 {
		fmt.Println(resp.Status)
		return nil
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create a new project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodPost, "/projects/"+args[0], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var projectGetCmd = &cobra.Command{
	Use:   "get NAME",
	Short: "Show a project's current state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodGet, "/projects/"+args[0], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var projectDeleteCmd = &cobra.Command{
	Use:   "delete NAME",
	Short: "Destroy a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodDelete, "/projects/"+args[0], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var projectCleanCmd = &cobra.Command{
	Use:   "clean NAME",
	Short: "Clear a project's build cache",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodPost, "/projects/"+args[0]+"/clean", nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

func init() {
	projectCmd.AddCommand(projectCreateCmd, projectGetCmd, projectDeleteCmd, projectCleanCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage services and deploy new code to them",
}

var serviceDeployCmd = &cobra.Command{
	Use:   "deploy PROJECT SERVICE EXECUTABLE",
	Short: "Upload an executable and deploy it as a service",
	Long: `Reads EXECUTABLE from disk and uploads it as the service's deployed
binary (spec.md §6 POST /projects/:name/services/:svc), along with the
commit metadata passed via flags.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		projectName, serviceName, execPath := args[0], args[1], args[2]
		data, err := os.ReadFile(execPath)
		if err != nil {
			return fmt.Errorf("read %s: %w", execPath, err)
		}
		commitID, _ := cmd.Flags().GetString("commit")
		commitMsg, _ := cmd.Flags().GetString("message")
		branch, _ := cmd.Flags().GetString("branch")
		dirty, _ := cmd.Flags().GetBool("dirty")
		noTest, _ := cmd.Flags().GetBool("no-test")

		body := map[string]any{
			"git_commit_id":  commitID,
			"git_commit_msg": commitMsg,
			"git_branch":     branch,
			"git_dirty":      dirty,
			"no_test":        noTest,
			"data":           data,
		}
		resp, err := clientFromFlags(cmd).do(http.MethodPost, "/projects/"+projectName+"/services/"+serviceName, body)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var serviceGetCmd = &cobra.Command{
	Use:   "get PROJECT SERVICE",
	Short: "Show a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodGet, "/projects/"+args[0]+"/services/"+args[1], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var serviceDeleteCmd = &cobra.Command{
	Use:   "delete PROJECT SERVICE",
	Short: "Stop a service's active deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodDelete, "/projects/"+args[0]+"/services/"+args[1], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

func init() {
	serviceDeployCmd.Flags().String("commit", "", "git commit id")
	serviceDeployCmd.Flags().String("message", "", "git commit message")
	serviceDeployCmd.Flags().String("branch", "", "git branch")
	serviceDeployCmd.Flags().Bool("dirty", false, "working tree had uncommitted changes")
	serviceDeployCmd.Flags().Bool("no-test", false, "skip the service's test suite before deploying")
	serviceCmd.AddCommand(serviceDeployCmd, serviceGetCmd, serviceDeleteCmd)
}

var deploymentCmd = &cobra.Command{
	Use:   "deployment",
	Short: "Inspect and control deployments",
}

var deploymentListCmd = &cobra.Command{
	Use:   "list PROJECT",
	Short: "List a project's deployments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodGet, "/projects/"+args[0]+"/deployments", nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var deploymentGetCmd = &cobra.Command{
	Use:   "get PROJECT ID",
	Short: "Show one deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodGet, "/projects/"+args[0]+"/deployments/"+args[1], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var deploymentStopCmd = &cobra.Command{
	Use:   "stop PROJECT ID",
	Short: "Stop a deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodDelete, "/projects/"+args[0]+"/deployments/"+args[1], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

var deploymentStartCmd = &cobra.Command{
	Use:   "start PROJECT ID",
	Short: "Resume a stopped or idle deployment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := clientFromFlags(cmd).do(http.MethodPut, "/projects/"+args[0]+"/deployments/"+args[1], nil)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

func init() {
	deploymentCmd.AddCommand(deploymentListCmd, deploymentGetCmd, deploymentStopCmd, deploymentStartCmd)
}

var domainCmd = &cobra.Command{
	Use:   "domain",
	Short: "Manage custom domains",
}

var domainAddCmd = &cobra.Command{
	Use:   "add PROJECT FQDN",
	Short: "Attach a custom domain to a project",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		certPath, _ := cmd.Flags().GetString("cert")
		keyPath, _ := cmd.Flags().GetString("key")
		var cert, key []byte
		var err error
		if certPath != "" {
			if cert, err = os.ReadFile(certPath); err != nil {
				return fmt.Errorf("read %s: %w", certPath, err)
			}
		}
		if keyPath != "" {
			if key, err = os.ReadFile(keyPath); err != nil {
				return fmt.Errorf("read %s: %w", keyPath, err)
			}
		}
		body := map[string]any{"fqdn": args[1], "cert": cert, "key": key}
		resp, err := clientFromFlags(cmd).do(http.MethodPost, "/projects/"+args[0]+"/domains", body)
		if err != nil {
			return err
		}
		return decode(resp)
	},
}

func init() {
	domainAddCmd.Flags().String("cert", "", "path to a PEM certificate; omit to register the domain with no certificate")
	domainAddCmd.Flags().String("key", "", "path to the certificate's PEM private key")
	domainCmd.AddCommand(domainAddCmd)
}
