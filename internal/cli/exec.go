package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	apitool "github.com/JohnPlummer/jp-go-apitool"
	"github.com/JohnPlummer/jp-go-apitool/internal/app"
	"github.com/JohnPlummer/jp-go-apitool/internal/config"
)

var (
	callFile       string
	execConfigPath string
	failOnError    bool
)

var execCmd = &cobra.Command{
	Use:   "exec",
	Short: "Execute one call and print its result envelope as JSON",
	Long: `Execute a single call described by a JSON or YAML file.
Use "-" to read the call from stdin.

Example:
  apitool exec -f call.yaml
  echo '{"protocol":"rest","url":"https://api.example.com/test"}' | apitool exec -f -`,
	RunE: runExec,
}

func init() {
	execCmd.Flags().StringVarP(&callFile, "file", "f", "", "Path to call configuration (JSON or YAML), - for stdin")
	execCmd.Flags().StringVarP(&execConfigPath, "config", "c", "", "Path to service configuration file")
	execCmd.Flags().BoolVar(&failOnError, "fail", false, "Exit non-zero when the envelope status is error")
	_ = execCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(execCmd)
}

func runExec(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(execConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	cfg.Metrics.Enabled = false

	data, err := readCallFile(cmd.InOrStdin(), callFile)
	if err != nil {
		return err
	}

	call, err := apitool.ParseCallConfig(data)
	if err != nil {
		return err
	}

	a, err := app.New(cfg, prometheus.NewRegistry(), app.NewLogger(cfg.Log, cmd.ErrOrStderr()))
	if err != nil {
		return err
	}

	result, err := a.Executor.Execute(cmd.Context(), call)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("failed to write result: %w", err)
	}

	if failOnError && !result.IsSuccess() {
		return fmt.Errorf("call finished with status %s (status code %d)", result.Status, result.Metadata.StatusCode)
	}
	return nil
}

func readCallFile(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read call from stdin: %w", err)
		}
		return data, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read call file: %w", err)
	}
	return data, nil
}
