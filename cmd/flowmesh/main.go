// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/flowmesh/pkg/ux"
)

var config Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if outputMode != "" {
			ux.SetMode(ux.ParseMode(outputMode))
		} else {
			ux.InitMode()
		}

		config = DefaultConfig()

		data, err := os.ReadFile(configPath)
		if err != nil {
			if os.IsNotExist(err) && configPath == defaultConfigPath {
				// Running without a config file is fine; defaults apply.
				return
			}
			log.Fatalf("Error reading %s: %v", configPath, err)
		}

		if err := yaml.Unmarshal(data, &config); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		config.ApplyDefaults()
		if err := config.Validate(); err != nil {
			log.Fatalf("Invalid configuration in %s: %v", configPath, err)
		}
	}
}
