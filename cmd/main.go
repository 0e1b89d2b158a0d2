/*
Copyright 2025 Soko Market Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"fmt"
	"log"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/sokomarket/soko"
	"github.com/sokomarket/soko/config"
	"github.com/sokomarket/soko/database"
	"github.com/sokomarket/soko/internal/notification"
)

// Soko represents the CLI application, encapsulating the root Cobra command.
type Soko struct {
	cmd *cobra.Command
}

// sokoInstance holds the service instance and its configuration for commands
// to share.
type sokoInstance struct {
	soko *soko.Soko
	cnf  *config.Configuration
}

// recoverPanic handles any panics during program execution and logs the error.
func recoverPanic() {
	if rec := recover(); rec != nil {
		logrus.Error(rec)
		os.Exit(1)
	}
}

// preRun loads the configuration and initializes the service instance before
// any command runs.
func preRun(app *sokoInstance) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := config.InitConfig("soko.json")
		if err != nil {
			log.Fatal("error loading config", err)
		}

		cnf, err := config.Fetch()
		if err != nil {
			return err
		}

		newSoko, err := setupSoko(cnf)
		if err != nil {
			notification.NotifyError(err)
			log.Fatal(err)
		}

		app.soko = newSoko
		app.cnf = cnf

		return nil
	}
}

// setupSoko connects the datasource and builds the service instance.
func setupSoko(cfg *config.Configuration) (*soko.Soko, error) {
	db, err := database.NewDataSource(cfg)
	if err != nil {
		return nil, fmt.Errorf("error getting datasource: %v", err)
	}

	newSoko, err := soko.NewSoko(db)
	if err != nil {
		return nil, fmt.Errorf("error creating soko: %v", err)
	}
	return newSoko, nil
}

// NewCLI creates the command-line interface for the application.
func NewCLI() *Soko {
	var configFile string
	s := &sokoInstance{}

	var rootCmd = &cobra.Command{
		Use:   "soko",
		Short: "Delivery verification and escrow settlement",
		Run:   func(cmd *cobra.Command, args []string) {},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "./soko.json", "Configuration file for the escrow core")

	rootCmd.PersistentPreRunE = preRun(s)

	rootCmd.AddCommand(serverCommands(s))
	rootCmd.AddCommand(workerCommands(s))
	rootCmd.AddCommand(migrateCommands(s))

	return &Soko{cmd: rootCmd}
}

// executeCLI runs the root command of the CLI application.
func (s *Soko) executeCLI() {
	if err := s.cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func main() {
	defer recoverPanic()
	cli := NewCLI()
	cli.executeCLI()
}
