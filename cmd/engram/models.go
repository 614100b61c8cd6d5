package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/engram-dev/engram/pkg/model"
)

func newModelsCmd() *cobra.Command {
	var region string

	cmd := &cobra.Command{
		Use:   "models",
		Short: "List Bedrock foundation models available in a region",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := model.ListBedrockModelIDs(cmd.Context(), region)
			if err != nil {
				return fmt.Errorf("list models: %w", err)
			}
			if len(ids) == 0 {
				fmt.Println("No models available.")
				return nil
			}
			for _, id := range ids {
				fmt.Println(id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&region, "region", "", "AWS region (default: the SDK's region chain)")

	return cmd
}
