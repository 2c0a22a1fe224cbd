package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/prodscribe/internal/api"
	"github.com/kalambet/prodscribe/internal/config"
	"github.com/kalambet/prodscribe/internal/payload"
)

// --- describe ---

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Generate a product description",
	Long: `Generate a product description from the sample payload, optionally
replacing any block with the contents of a file. Block files may be JSON,
YAML, PDF, HTML or plain text.

Examples:
  prodscribe describe
  prodscribe describe --product ./watch.json --variant completion
  prodscribe describe --product ./spec-sheet.pdf --remote`,
	RunE: func(cmd *cobra.Command, args []string) error {
		variant, _ := cmd.Flags().GetString("variant")
		remote, _ := cmd.Flags().GetBool("remote")
		asJSON, _ := cmd.Flags().GetBool("json")

		over, err := loadBlockFlags(cmd)
		if err != nil {
			return err
		}

		if remote {
			return describeRemote(cmd.Context(), variant, over, asJSON)
		}
		return describeLocal(cmd.Context(), variant, over, asJSON)
	},
}

func init() {
	describeCmd.Flags().String("product", "", "file with the product_info block")
	describeCmd.Flags().String("user", "", "file with the user_personal_information block")
	describeCmd.Flags().String("provided", "", "file with the user_provided_information block")
	describeCmd.Flags().String("variant", "", "assistant or completion (default: server.variant)")
	describeCmd.Flags().Bool("remote", false, "send the request to the running server")
	describeCmd.Flags().Bool("json", false, "print the result as JSON")
}

func loadBlockFlags(cmd *cobra.Command) (payload.Input, error) {
	var in payload.Input
	flags := []struct {
		name string
		dst  *map[string]any
	}{
		{"product", &in.ProductInfo},
		{"user", &in.UserPersonalInformation},
		{"provided", &in.UserProvidedInformation},
	}
	for _, f := range flags {
		path, _ := cmd.Flags().GetString(f.name)
		if path == "" {
			continue
		}
		block, err := payload.LoadBlock(path)
		if err != nil {
			return payload.Input{}, fmt.Errorf("--%s: %w", f.name, err)
		}
		*f.dst = block
	}
	return in, nil
}

func describeLocal(ctx context.Context, variant string, over payload.Input, asJSON bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)
	if variant == "" {
		variant = cfg.Server.Variant
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return err
	}
	defer a.Close()

	printStep("Generating (%s)...", variant)
	res, err := a.service.Describe(ctx, variant, a.fixtures.Merge(over))
	if err != nil {
		return err
	}

	if asJSON {
		return printJSON(api.AssistantResponse{AssistantReply: res.Reply, ThreadID: res.ThreadID})
	}
	fmt.Println(res.Reply)
	return nil
}

func describeRemote(ctx context.Context, variant string, over payload.Input, asJSON bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	path := "/describe-product"
	if variant != "" {
		path += "/" + variant
	}

	resp, err := client.post(ctx, path, over)
	if err != nil {
		return err
	}

	if resp.Header.Get("Content-Type") == "application/json" || resp.StatusCode >= 400 {
		var out api.AssistantResponse
		if err := decodeJSON(resp, &out); err != nil {
			return err
		}
		if asJSON {
			return printJSON(out)
		}
		fmt.Println(out.AssistantReply)
		return nil
	}

	text, err := readText(resp)
	if err != nil {
		return err
	}
	if asJSON {
		return printJSON(api.AssistantResponse{AssistantReply: text})
	}
	fmt.Println(text)
	return nil
}

// --- generations ---

var generationsCmd = &cobra.Command{
	Use:   "generations",
	Short: "Inspect the generation history of the running server",
}

var generationsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent generations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/generations?limit=%d&offset=%d", limit, offset))
		if err != nil {
			return err
		}

		var gens []struct {
			ID         string    `json:"id"`
			CreatedAt  time.Time `json:"created_at"`
			Variant    string    `json:"variant"`
			Status     string    `json:"status"`
			Stage      string    `json:"stage"`
			Reply      string    `json:"reply"`
			DurationMS int64     `json:"duration_ms"`
		}
		if err := decodeJSON(resp, &gens); err != nil {
			return err
		}

		if len(gens) == 0 {
			fmt.Println("No generations found.")
			return nil
		}

		for _, g := range gens {
			summary := truncate(g.Reply, 60)
			if g.Status != "succeeded" {
				summary = colorize(colorRed, g.Status+" at "+g.Stage)
			}
			fmt.Printf("%s  %s  %-10s %6dms  %s\n",
				colorize(colorCyan, shortID(g.ID)),
				g.CreatedAt.Local().Format(time.DateTime),
				g.Variant,
				g.DurationMS,
				summary,
			)
		}
		return nil
	},
}

var generationsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/generations/"+args[0])
		if err != nil {
			return err
		}

		var gen any
		if err := decodeJSON(resp, &gen); err != nil {
			return err
		}
		return printJSON(gen)
	},
}

var generationsDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/generations/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted generation %s", args[0])
		return nil
	},
}

func init() {
	generationsListCmd.Flags().Int("limit", 20, "maximum number of generations to list")
	generationsListCmd.Flags().Int("offset", 0, "number of generations to skip")
	generationsCmd.AddCommand(generationsListCmd)
	generationsCmd.AddCommand(generationsShowCmd)
	generationsCmd.AddCommand(generationsDeleteCmd)
}

// --- assistant ---

var assistantCmd = &cobra.Command{
	Use:   "assistant",
	Short: "Manage the provider-side assistant",
}

var assistantEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Create the assistant if no id is persisted and print its id",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		setupLogging(cfg.Log.Level)

		a, err := newApp(cfg, false)
		if err != nil {
			return err
		}
		defer a.Close()

		if id := a.resolver.ID(); id != "" {
			printStatus("Assistant", "%s (existing)", id)
			return nil
		}

		printStep("Creating assistant %q...", cfg.Assistant.Name)
		id, err := a.resolver.Ensure(cmd.Context())
		if err != nil {
			return err
		}
		printSuccess("Created assistant %s (saved to %s)", id, cfg.Assistant.EnvFile)
		return nil
	},
}

func init() {
	assistantCmd.AddCommand(assistantEnsureCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:       "set <key> <value>",
	Short:     "Set a configuration value",
	Args:      cobra.ExactArgs(2),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

var configUnsetCmd = &cobra.Command{
	Use:       "unset <key>",
	Short:     "Remove a stored configuration value",
	Args:      cobra.ExactArgs(1),
	ValidArgs: config.ValidKeys(),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.UnsetKey(args[0]); err != nil {
			return err
		}
		printSuccess("Unset %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configUnsetCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	return enc.Encode(v)
}
