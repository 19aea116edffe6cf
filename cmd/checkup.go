package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/webcheckup/webcheckup/internal/domain/checkup"
	"github.com/webcheckup/webcheckup/internal/executor"
	"github.com/webcheckup/webcheckup/internal/probe"
	"github.com/webcheckup/webcheckup/internal/shared/constants"
	"github.com/webcheckup/webcheckup/internal/shared/security"
)

var checkupCmd = &cobra.Command{
	Use:   "checkup <url>",
	Short: "Run all checks against a URL and print the results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		outputDir, _ := cmd.Flags().GetString("output")
		workers, _ := cmd.Flags().GetInt("workers")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		if err := checkup.ValidateTargetURL(target); err != nil {
			return fmt.Errorf("invalid target %q: %w", target, err)
		}
		if outputDir != "" {
			if err := os.MkdirAll(outputDir, constants.DefaultDirPerm); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}
		}

		registry := probe.DefaultRegistry(probe.Config{
			LighthouseBinary: viper.GetString("lighthouse_binary"),
			InContainer:      viper.GetBool("in_container"),
			CookieScannerURL: viper.GetString("cookie_scanner_url"),
			ToolboxAPIKey:    viper.GetString("toolbox_api_key"),
			ToolboxBaseURL:   viper.GetString("toolbox_base_url"),
		})

		pool := executor.NewPool(workers, logger)
		defer pool.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		fmt.Printf("%s Running %d checks against %s\n", colorInfo("→"), len(checkup.AllCheckTypes()), target)

		handles := make(map[checkup.CheckType]*executor.Handle)
		for _, checkType := range checkup.AllCheckTypes() {
			prober, err := registry.For(checkType)
			if err != nil {
				return err
			}
			p := prober
			handles[checkType] = pool.Submit(ctx, func(taskCtx context.Context) (map[string]any, error) {
				return p.Run(taskCtx, target)
			})
		}

		failures := 0
		for _, checkType := range checkup.AllCheckTypes() {
			outcome := <-handles[checkType].Done()
			if outcome.Err != nil {
				failures++
				fmt.Printf("  %s %-14s %s\n", colorError("✗"), checkType, outcome.Err)
				continue
			}
			fmt.Printf("  %s %-14s %s\n", colorSuccess("✓"), checkType, formatStatusWithColor("ok"))
			if outputDir == "" {
				continue
			}
			path, err := security.ResolveWithin(outputDir, fmt.Sprintf("%s.json", checkType))
			if err != nil {
				return fmt.Errorf("failed to resolve output path for %s: %w", checkType, err)
			}
			data, err := json.MarshalIndent(outcome.Payload, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to encode %s results: %w", checkType, err)
			}
			if err := os.WriteFile(path, data, constants.DefaultFilePerm); err != nil {
				return fmt.Errorf("failed to write %s results: %w", checkType, err)
			}
			fmt.Printf("    results written to %s\n", path)
		}

		if failures > 0 {
			return fmt.Errorf("%d of %d checks failed", failures, len(checkup.AllCheckTypes()))
		}
		fmt.Printf("%s All checks completed\n", colorSuccess("✓"))
		return nil
	},
}

func init() {
	checkupCmd.Flags().StringP("output", "O", "", "Directory to write per-check JSON results")
	checkupCmd.Flags().Int("workers", 8, "Probe execution pool size")
	checkupCmd.Flags().Duration("timeout", 10*time.Minute, "Overall deadline for the run")
}
