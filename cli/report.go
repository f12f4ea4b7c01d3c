package cli

import (
	"github.com/spf13/cobra"

	"realestate-crawler/models"
	"realestate-crawler/services"
	"realestate-crawler/storage"
)

var reportFromPostgres bool

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print statistics over the processed records",
	RunE:  runReport,
}

func init() {
	reportCmd.Flags().BoolVar(&reportFromPostgres, "postgres", false, "read records from PostgreSQL instead of the JSON store")
	rootCmd.AddCommand(reportCmd)
}

func runReport(cmd *cobra.Command, _ []string) error {
	var (
		records []models.PropertyRecord
		err     error
	)
	if reportFromPostgres {
		pg, perr := storage.NewPostgresWriter(cmd.Context(), cfg.DSN(), logger)
		if perr != nil {
			return perr
		}
		defer pg.Close()
		records, err = pg.FetchAll(cmd.Context())
	} else {
		records, err = storage.NewJSONRecordStore(cfg.RecordsPath).All(cmd.Context())
	}
	if err != nil {
		return err
	}

	svc := services.NewInsightService(logger)
	svc.Fprint(cmd.OutOrStdout(), svc.Generate(records))
	return nil
}
