// Copyright (C) 2025 Meridian Works (engineering@meridianworks.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package config

type MeridianConfig struct {
	// Portal: where the portal service is reachable
	Portal PortalConfig `yaml:"portal"`

	// Dataset: the local copy of the project dataset
	Dataset DatasetConfig `yaml:"dataset"`

	// Storage: remote dataset storage for push/pull
	Storage StorageConfig `yaml:"storage"`
}

type PortalConfig struct {
	BaseURL string `yaml:"base_url"` // e.g. http://localhost:8080
}

type DatasetConfig struct {
	Path string `yaml:"path"` // local CSV path, e.g. ./data/projects.csv
}

type StorageConfig struct {
	GCS GCSConfig `yaml:"gcs"`
}

type GCSConfig struct {
	ProjectID       string `yaml:"project_id"`
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`           // object prefix, e.g. datasets
	CredentialsFile string `yaml:"credentials_file"` // empty uses application default credentials
}

func DefaultConfig() MeridianConfig {
	return MeridianConfig{
		Portal: PortalConfig{
			BaseURL: "http://localhost:8080",
		},
		Dataset: DatasetConfig{
			Path: "data/projects.csv",
		},
		Storage: StorageConfig{
			GCS: GCSConfig{
				Prefix: "datasets",
			},
		},
	}
}
