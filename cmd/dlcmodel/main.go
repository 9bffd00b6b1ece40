// Command dlcmodel loads, verifies, and scores D-GBDT model files
// offline, without standing up a full node.
package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ippan/dlc/codec"
	"github.com/ippan/dlc/gbdt"
)

var rootCmd = &cobra.Command{
	Use:   "dlcmodel",
	Short: "Inspect, verify, and score D-GBDT reputation models",
}

func main() {
	rootCmd.AddCommand(hashCmd(), verifyCmd(), scoreCmd())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func readModel(path string) (*gbdt.Model, []byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	var m gbdt.Model
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}
	return &m, data, nil
}

func hashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash <model.json>",
		Short: "Print a model's canonical BLAKE3 hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := readModel(args[0])
			if err != nil {
				return err
			}
			h, err := m.Hash()
			if err != nil {
				return err
			}
			fmt.Println(hex.EncodeToString(h[:]))
			return nil
		},
	}
}

func verifyCmd() *cobra.Command {
	var expectedHex string
	cmd := &cobra.Command{
		Use:   "verify <model.json>",
		Short: "Verify a model's complexity bounds and pinned hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			want, err := hex.DecodeString(expectedHex)
			if err != nil {
				return fmt.Errorf("decoding --hash: %w", err)
			}
			var expected codec.Hash256
			if len(want) != len(expected) {
				return fmt.Errorf("--hash must be %d bytes hex-encoded", len(expected))
			}
			copy(expected[:], want)

			if _, err := gbdt.LoadAndVerify(data, expected); err != nil {
				return err
			}
			fmt.Println("ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&expectedHex, "hash", "", "expected model hash, hex-encoded (required)")
	_ = cmd.MarkFlagRequired("hash")
	return cmd
}

func scoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "score <model.json> <telemetry.json>",
		Short: "Score a validator's telemetry against a model",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, _, err := readModel(args[0])
			if err != nil {
				return err
			}

			telData, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			var input struct {
				Telemetry gbdt.Telemetry `json:"telemetry"`
			}
			if err := json.Unmarshal(telData, &input); err != nil {
				return err
			}

			// Normalization constants come from the model file itself,
			// never from the telemetry file: that's what lets model_hash
			// pin scoring behavior across every node running this model.
			// This command does not check the model's hash or bounds; use
			// verify for that.
			features := gbdt.ExtractFeatures(input.Telemetry, m.FeatureConfig)
			score := gbdt.Score(m, features)
			fmt.Println(score)
			return nil
		},
	}
}
