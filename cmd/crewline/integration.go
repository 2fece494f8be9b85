package main

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/zulandar/crewline/internal/config"
	"github.com/zulandar/crewline/internal/db"
	"github.com/zulandar/crewline/internal/models"
	"gorm.io/gorm"
)

func newIntegrationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "integration",
		Short: "Manage PM-tool integrations",
	}

	cmd.AddCommand(newIntegrationCreateCmd())
	cmd.AddCommand(newIntegrationListCmd())
	cmd.AddCommand(newWorkerCmd())
	return cmd
}

func newIntegrationCreateCmd() *cobra.Command {
	var (
		configPath     string
		name           string
		platform       string
		ownerChat      string
		autoStart      bool
		requirePhoto   bool
		notifyProblems bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new integration",
		Long:  "Creates an integration and prints its secret ingestion URL path. Point the PM tool's webhook at that path.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if platform == "" {
				return fmt.Errorf("integration: --platform is required")
			}
			if ownerChat == "" {
				return fmt.Errorf("integration: --owner-chat is required")
			}

			gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			connectID, err := newConnectID()
			if err != nil {
				return err
			}

			integ := models.Integration{
				ConnectID:         connectID,
				Name:              name,
				Platform:          platform,
				OwnerChatID:       ownerChat,
				Active:            true,
				AutoStartOnView:   autoStart,
				RequirePhotoProof: requirePhoto,
				NotifyOnProblem:   notifyProblems,
			}
			if err := gormDB.Create(&integ).Error; err != nil {
				return fmt.Errorf("integration: create: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Integration %d created.\n", integ.ID)
			fmt.Fprintf(out, "Ingestion path: /integrations/%s\n", integ.ConnectID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewline.yaml", "path to Crewline config file")
	cmd.Flags().StringVar(&name, "name", "", "display name for the integration")
	cmd.Flags().StringVar(&platform, "platform", "", "PM tool platform (monday, asana, planfix, trello, github, or generic)")
	cmd.Flags().StringVar(&ownerChat, "owner-chat", "", "chat ID of the integration owner")
	cmd.Flags().BoolVar(&autoStart, "auto-start", false, "mark tasks started when the worker views them")
	cmd.Flags().BoolVar(&requirePhoto, "require-photo", false, "require photo evidence before completion")
	cmd.Flags().BoolVar(&notifyProblems, "notify-problems", true, "alert the owner when a worker reports a problem")
	return cmd
}

func newIntegrationListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List integrations and their stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var integrations []models.Integration
			if err := gormDB.Preload("Workers").Order("id").Find(&integrations).Error; err != nil {
				return fmt.Errorf("integration: list: %w", err)
			}

			printIntegrations(cmd.OutOrStdout(), integrations)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewline.yaml", "path to Crewline config file")
	return cmd
}

func printIntegrations(out io.Writer, integrations []models.Integration) {
	if len(integrations) == 0 {
		fmt.Fprintln(out, "No integrations.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPLATFORM\tACTIVE\tWORKERS\tSENT\tCOMPLETED\tAVG MIN")
	for i := range integrations {
		integ := &integrations[i]
		fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%d\t%d\t%d\t%.0f\n",
			integ.ID, integ.Name, integ.Platform, integ.Active,
			len(integ.ActiveWorkers()), integ.TasksSent, integ.TasksCompleted,
			integ.AvgResponseMins)
	}
	w.Flush()
}

func newWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Manage an integration's workers",
	}
	cmd.AddCommand(newWorkerAddCmd())
	cmd.AddCommand(newWorkerRemoveCmd())
	return cmd
}

func newWorkerAddCmd() *cobra.Command {
	var (
		configPath string
		connectID  string
		chatID     string
		externalID string
		name       string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a worker to an integration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectID == "" || chatID == "" {
				return fmt.Errorf("worker: --connect and --chat-id are required")
			}

			gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			integ, err := loadIntegration(gormDB, connectID)
			if err != nil {
				return err
			}

			worker, created, err := upsertWorker(gormDB, integ, chatID, externalID, name)
			if err != nil {
				return err
			}

			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %d added to %q.\n", worker.ID, integ.Name)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Worker %d updated on %q.\n", worker.ID, integ.Name)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewline.yaml", "path to Crewline config file")
	cmd.Flags().StringVar(&connectID, "connect", "", "connect ID of the integration")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "chat ID the worker receives tasks on")
	cmd.Flags().StringVar(&externalID, "external-id", "", "assignee ID in the PM tool")
	cmd.Flags().StringVar(&name, "name", "", "worker display name")
	return cmd
}

func newWorkerRemoveCmd() *cobra.Command {
	var (
		configPath string
		connectID  string
		chatID     string
	)

	cmd := &cobra.Command{
		Use:   "remove",
		Short: "Deactivate a worker",
		Long:  "Marks the worker inactive. The row is kept so completed tasks retain their attribution.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if connectID == "" || chatID == "" {
				return fmt.Errorf("worker: --connect and --chat-id are required")
			}

			gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			integ, err := loadIntegration(gormDB, connectID)
			if err != nil {
				return err
			}

			result := gormDB.Model(&models.Worker{}).
				Where("integration_id = ? AND chat_id = ? AND active = ?", integ.ID, chatID, true).
				Update("active", false)
			if result.Error != nil {
				return fmt.Errorf("worker: remove: %w", result.Error)
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("worker: no active worker with chat ID %q on %q", chatID, integ.Name)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Worker %s deactivated.\n", chatID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "crewline.yaml", "path to Crewline config file")
	cmd.Flags().StringVar(&connectID, "connect", "", "connect ID of the integration")
	cmd.Flags().StringVar(&chatID, "chat-id", "", "chat ID of the worker")
	return cmd
}

// upsertWorker adds a worker, or refreshes and reactivates the existing row
// when the chat ID is already registered on the integration. A chat ID maps
// to at most one worker row per integration; reviving the original row keeps
// completed tasks attributed to it.
func upsertWorker(gormDB *gorm.DB, integ *models.Integration, chatID, externalID, name string) (*models.Worker, bool, error) {
	var worker models.Worker
	err := gormDB.Where("integration_id = ? AND chat_id = ?", integ.ID, chatID).First(&worker).Error
	switch {
	case err == nil:
		worker.ExternalID = externalID
		worker.Name = name
		worker.Active = true
		if err := gormDB.Model(&worker).Updates(map[string]interface{}{
			"external_id": externalID,
			"name":        name,
			"active":      true,
		}).Error; err != nil {
			return nil, false, fmt.Errorf("worker: update: %w", err)
		}
		return &worker, false, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		worker = models.Worker{
			IntegrationID: integ.ID,
			ExternalID:    externalID,
			Name:          name,
			ChatID:        chatID,
			Active:        true,
		}
		if err := gormDB.Create(&worker).Error; err != nil {
			return nil, false, fmt.Errorf("worker: add: %w", err)
		}
		return &worker, true, nil
	default:
		return nil, false, fmt.Errorf("worker: lookup: %w", err)
	}
}

// connectFromConfig loads the config and opens the database connection.
func connectFromConfig(configPath string) (*gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)
}

// loadIntegration finds an integration by its connect ID.
func loadIntegration(gormDB *gorm.DB, connectID string) (*models.Integration, error) {
	var integ models.Integration
	err := gormDB.Where("connect_id = ?", connectID).First(&integ).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration: no integration with connect ID %q", connectID)
	}
	if err != nil {
		return nil, fmt.Errorf("integration: load: %w", err)
	}
	return &integ, nil
}

// newConnectID generates the random token embedded in the ingestion URL.
func newConnectID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("integration: generate connect ID: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
