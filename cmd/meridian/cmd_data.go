// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/MeridianWorks/MeridianPortal/cmd/meridian/config"
	"github.com/MeridianWorks/MeridianPortal/cmd/meridian/gcs"
	"github.com/MeridianWorks/MeridianPortal/pkg/ux"
	portalconfig "github.com/MeridianWorks/MeridianPortal/services/portal/config"
	"github.com/MeridianWorks/MeridianPortal/services/portal/dataset"
)

// validationResult summarizes a dataset validation run.
type validationResult struct {
	Kept    int
	Skipped int
	Total   int
	Bytes   int
}

// validateDataset parses the CSV with the portal's own loader so the
// CLI reports exactly what the service would serve.
func validateDataset(filePath string, maxContextBytes int) (*validationResult, error) {
	ds, err := dataset.Load(filePath, maxContextBytes)
	if err != nil {
		return nil, err
	}

	// Total data rows, counted independently of the required-field filter.
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dataset file: %w", err)
	}
	defer file.Close()
	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset CSV: %w", err)
	}
	total := len(rows) - 1 // minus header

	return &validationResult{
		Kept:    len(ds.Records),
		Skipped: total - len(ds.Records),
		Total:   total,
		Bytes:   len(ds.Text),
	}, nil
}

func datasetPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return config.Global.Dataset.Path
}

func runDataValidate(cmd *cobra.Command, args []string) {
	filePath := datasetPath(args)

	result, err := validateDataset(filePath, portalconfig.DefaultMaxContextBytes)
	if err != nil {
		ux.Error(fmt.Sprintf("Validation failed: %v", err))
		os.Exit(1)
	}

	ux.Title(fmt.Sprintf("Dataset: %s", filePath))
	ux.KeyValue("records", fmt.Sprintf("%d", result.Kept))
	ux.KeyValue("context bytes", fmt.Sprintf("%d", result.Bytes))
	ux.Summary(result.Kept, result.Skipped, result.Total)

	if result.Kept == 0 {
		ux.Warning("No usable records. The portal would serve an empty dataset.")
		os.Exit(1)
	}
	ux.Success("Dataset is loadable.")
}

func runDataPush(cmd *cobra.Command, args []string) {
	filePath := datasetPath(args)
	gcsCfg := config.Global.Storage.GCS
	if gcsCfg.Bucket == "" {
		log.Fatalf("storage.gcs.bucket is not set in ~/.meridian/meridian.yaml")
	}

	objectPath := path.Join(gcsCfg.Prefix, filepath.Base(filePath))

	confirmed := dataYes
	if !confirmed {
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Upload %s to gs://%s/%s?", filePath, gcsCfg.Bucket, objectPath)).
			Description("This replaces the remote copy.").
			Value(&confirmed).
			Run()
		if err != nil {
			log.Fatalf("Confirmation failed: %v", err)
		}
	}
	if !confirmed {
		ux.Muted("Aborted. No changes were made.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := gcs.NewClient(ctx, gcsCfg.ProjectID, gcsCfg.Bucket, gcsCfg.CredentialsFile)
	if err != nil {
		log.Fatalf("Failed to create GCS client: %v", err)
	}
	defer client.Close()

	err = ux.WithSpinner(fmt.Sprintf("Uploading to gs://%s/%s", gcsCfg.Bucket, objectPath), func() error {
		return client.UploadFile(ctx, filePath, objectPath)
	})
	if err != nil {
		os.Exit(1)
	}
}

func runDataPull(cmd *cobra.Command, args []string) {
	filePath := datasetPath(args)
	gcsCfg := config.Global.Storage.GCS
	if gcsCfg.Bucket == "" {
		log.Fatalf("storage.gcs.bucket is not set in ~/.meridian/meridian.yaml")
	}

	objectPath := path.Join(gcsCfg.Prefix, filepath.Base(filePath))

	if _, err := os.Stat(filePath); err == nil && !dataYes {
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Overwrite %s with gs://%s/%s?", filePath, gcsCfg.Bucket, objectPath)).
			Description("The local file will be replaced.").
			Value(&confirmed).
			Run()
		if err != nil {
			log.Fatalf("Confirmation failed: %v", err)
		}
		if !confirmed {
			ux.Muted("Aborted. No changes were made.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	client, err := gcs.NewClient(ctx, gcsCfg.ProjectID, gcsCfg.Bucket, gcsCfg.CredentialsFile)
	if err != nil {
		log.Fatalf("Failed to create GCS client: %v", err)
	}
	defer client.Close()

	err = ux.WithSpinner(fmt.Sprintf("Downloading gs://%s/%s", gcsCfg.Bucket, objectPath), func() error {
		return client.DownloadFile(ctx, objectPath, filePath)
	})
	if err != nil {
		os.Exit(1)
	}

	if result, err := validateDataset(filePath, portalconfig.DefaultMaxContextBytes); err == nil {
		ux.KeyValue("records", fmt.Sprintf("%d", result.Kept))
	}
}
