package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/perpbt/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Generate or validate run configuration files",
	Long: `Manage run configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  perpbt config init -o run.yaml
  perpbt config validate -f run.yaml`,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a default configuration file",
	RunE:  runConfigInit,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	RunE:  runConfigValidate,
}

var (
	configInitOutput   string
	configValidatePath string
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)

	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "run.yaml", "output config file path")
	configValidateCmd.Flags().StringVarP(&configValidatePath, "file", "f", "", "path to config file (required)")
	configValidateCmd.MarkFlagRequired("file")
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if err := cfg.SaveToFile(configInitOutput); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	fmt.Printf("✓ Created default configuration: %s\n", configInitOutput)
	fmt.Println("\nEdit the file and run with:")
	fmt.Printf("  perpbt backtest --config %s\n", configInitOutput)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(configValidatePath)
	if err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	fmt.Printf("✓ Configuration valid: %s\n", configValidatePath)
	fmt.Printf("  Capital:  $%.2f\n", cfg.Account.Balance)
	fmt.Printf("  Data:     %s %s %s (%s)\n", cfg.Data.Instrument, cfg.Data.Interval, cfg.Data.Range(), cfg.Data.Source)
	fmt.Printf("  Strategy: %s\n", cfg.Strategy.Name)
	fmt.Printf("  Fees:     maker %.4f%% taker %.4f%% funding=%v\n",
		cfg.Commission.MakerRate*100, cfg.Commission.TakerRate*100, cfg.Commission.FundingEnabled)
	fmt.Printf("  Risk:     max leverage %.1fx, stop %.1f%%, take profit %.1f%%\n",
		cfg.Risk.MaxLeverage, cfg.Risk.StopLossPct*100, cfg.Risk.TakeProfitPct*100)
	return nil
}
