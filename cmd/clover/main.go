// Command clover runs the ingestion and maintenance passes from the
// terminal, against the same database the API serves.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/civiclens/clover/config"
	filingrepo "github.com/civiclens/clover/internal/repositories/filing"
	profilerepo "github.com/civiclens/clover/internal/repositories/profile"
	txrepo "github.com/civiclens/clover/internal/repositories/transaction"
	"github.com/civiclens/clover/pkg/database"
	"github.com/civiclens/clover/pkg/dedupe"
	"github.com/civiclens/clover/pkg/entitysync"
	"github.com/civiclens/clover/pkg/fields"
	"github.com/civiclens/clover/pkg/importer"
	"github.com/civiclens/clover/pkg/jurisdiction"
	"github.com/civiclens/clover/pkg/logging"
	"github.com/civiclens/clover/pkg/mapping"
	"github.com/civiclens/clover/pkg/models"
	"github.com/civiclens/clover/pkg/reconcile"
	"github.com/civiclens/clover/pkg/spreadsheet"
	"github.com/civiclens/clover/pkg/validation"
)

// toolchain bundles everything the subcommands share
type toolchain struct {
	cfg    *config.Config
	logger ectologger.Logger
	db     database.DB

	filings      *filingrepo.Repository
	profiles     *profilerepo.Repository
	transactions *txrepo.Repository

	mapper     *mapping.Mapper
	validator  *validation.Validator
	importer   *importer.Importer
	merger     *dedupe.Engine
	reconciler *reconcile.Reconciler
	backfiller *jurisdiction.Backfiller
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "clover",
		Short:         "Campaign finance disclosure ingestion and maintenance",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newImportCmd())
	root.AddCommand(newMergeCmd())
	root.AddCommand(newReconcileCmd())
	root.AddCommand(newBackfillCmd())

	return root
}

func newImportCmd() *cobra.Command {
	var filerName, sourceRef, txType string
	var headerMapping map[string]string

	cmd := &cobra.Command{
		Use:   "import <spreadsheet>",
		Short: "Import a disclosure spreadsheet as a new filing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()
			return runImport(cmd.Context(), tc, args[0], filerName, sourceRef, txType, headerMapping)
		},
	}

	cmd.Flags().StringVar(&filerName, "filer", "", "committee or candidate name the filing belongs to")
	cmd.Flags().StringVar(&sourceRef, "source-ref", "", "disclosure reference, e.g. form number and period")
	cmd.Flags().StringVar(&txType, "tx-type", string(models.TransactionTypeContribution), "CONTRIBUTION or EXPENDITURE")
	cmd.Flags().StringToStringVar(&headerMapping, "mapping", nil, "field=header overrides, e.g. amount=Tran_Amt1")
	_ = cmd.MarkFlagRequired("filer")
	_ = cmd.MarkFlagRequired("source-ref")

	return cmd
}

func runImport(ctx context.Context, tc *toolchain, path, filerName, sourceRef, txType string, overrides map[string]string) error {
	t := models.TransactionType(txType)
	if t != models.TransactionTypeContribution && t != models.TransactionTypeExpenditure {
		return fmt.Errorf("unknown tx-type %q", txType)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	table, err := spreadsheet.Read(filepath.Base(path), data)
	if err != nil {
		return err
	}

	fp := table.Fingerprint()
	if existing, err := tc.filings.GetByFingerprint(ctx, fp); err != nil {
		return err
	} else if existing != nil {
		return fmt.Errorf("document already imported as filing %s", existing.ID)
	}

	suggestion := tc.mapper.Suggest(table.Headers)
	m := suggestion.Mapping
	for key, header := range overrides {
		m[key] = header
	}
	if err := tc.mapper.Validate(m, table.Headers); err != nil {
		return fmt.Errorf("invalid mapping: %w", err)
	}

	filing, err := tc.filings.Create(ctx, models.CreateFilingRequest{
		FilerName:   filerName,
		SourceRef:   sourceRef,
		Fingerprint: fp,
	})
	if err != nil {
		return err
	}

	batch := tc.validator.ValidateAll(m, table)
	result, err := tc.importer.Import(ctx, filing, batch, t)
	if err != nil {
		return err
	}
	_ = tc.filings.SetHeaderMapping(ctx, filing.ID, m)

	return printJSON(result)
}

func newMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge",
		Short: "Collapse duplicate profiles and filings",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "profiles",
		Short: "Merge duplicate profiles into their earliest member",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := tc.merger.MergeProfiles(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	})

	var policy string
	filingsCmd := &cobra.Command{
		Use:   "filings",
		Short: "Merge filings sharing a filer and source reference",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := tc.merger.MergeFilings(cmd.Context(), dedupe.FilingMergePolicy(policy))
			if err != nil {
				return err
			}
			for _, filingID := range report.AffectedFilings {
				if _, err := tc.reconciler.ReconcileFiling(cmd.Context(), filingID); err != nil {
					return err
				}
			}
			return printJSON(report)
		},
	}
	filingsCmd.Flags().StringVar(&policy, "policy", string(dedupe.FilingMergeReassign), "REASSIGN or DELETE duplicate transactions")
	cmd.AddCommand(filingsCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "constraint",
		Short: "Install the profile uniqueness index once no duplicates remain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()

			installed, err := tc.merger.EnsureUniqueConstraint(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(map[string]bool{"installed": installed})
		},
	})

	return cmd
}

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [filing-id]",
		Short: "Recompute stored filing totals from transactions",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()

			if len(args) == 1 {
				outcome, err := tc.reconciler.ReconcileFiling(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return printJSON(map[string]string{"outcome": string(outcome)})
			}

			report, err := tc.reconciler.ReconcileAll(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func newBackfillCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backfill-jurisdictions",
		Short: "Classify candidate profiles that still have no jurisdiction",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tc, cleanup, err := buildToolchain()
			if err != nil {
				return err
			}
			defer cleanup()

			report, err := tc.backfiller.Run(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
}

func buildToolchain() (*toolchain, func(), error) {
	_ = godotenv.Load()

	cfg := &config.Config{}
	if err := ectoenv.BindEnv(cfg); err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, flush := logging.New(cfg.LogLevel, cfg.PrettyLogs)

	db, err := connect(cfg, logger)
	if err != nil {
		flush()
		return nil, nil, err
	}

	fieldSet, err := loadFields(cfg)
	if err != nil {
		db.Close()
		flush()
		return nil, nil, err
	}
	classifier, err := loadClassifier(cfg)
	if err != nil {
		db.Close()
		flush()
		return nil, nil, err
	}

	var mapperOpts []mapping.Option
	if cfg.StrictHeaderPrefix {
		mapperOpts = append(mapperOpts, mapping.WithStrictPrefix())
	}

	filings := filingrepo.NewRepository(db, logger)
	profiles := profilerepo.NewRepository(db, logger)
	transactions := txrepo.NewRepository(db, logger)

	threshold, err := decimal.NewFromString(cfg.DonorThreshold)
	if err != nil {
		db.Close()
		flush()
		return nil, nil, fmt.Errorf("invalid donor threshold %q: %w", cfg.DonorThreshold, err)
	}
	resolver := entitysync.NewResolver(logger, profiles, transactions, classifier, threshold)

	tc := &toolchain{
		cfg:          cfg,
		logger:       logger,
		db:           db,
		filings:      filings,
		profiles:     profiles,
		transactions: transactions,
		mapper:       mapping.NewMapper(fieldSet, mapperOpts...),
		validator:    validation.NewValidator(fieldSet),
		importer:     importer.NewImporter(logger, db, filings, transactions, resolver, nil),
		merger:       dedupe.NewEngine(logger, db, profiles, filings, transactions, nil, nil),
		reconciler:   reconcile.NewReconciler(logger, filings, transactions),
		backfiller:   jurisdiction.NewBackfiller(logger, profiles, classifier),
	}

	cleanup := func() {
		db.Close()
		flush()
	}
	return tc, cleanup, nil
}

func connect(cfg *config.Config, logger ectologger.Logger) (database.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	driver, err := migratepg.WithInstance(sqlxDB.DB, &migratepg.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to prepare migration driver: %w", err)
	}
	migrations := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})
	if err := migrations.Migrate(cfg.DatabaseName, driver); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return database.NewDatabaseInstance(sqlxDB, logger), nil
}

func loadFields(cfg *config.Config) (*fields.Set, error) {
	if cfg.FieldDefinitionsPath != "" {
		return fields.Load(cfg.FieldDefinitionsPath)
	}
	return fields.Defaults()
}

func loadClassifier(cfg *config.Config) (*jurisdiction.Classifier, error) {
	if cfg.JurisdictionRulesPath != "" {
		return jurisdiction.Load(cfg.JurisdictionRulesPath)
	}
	return jurisdiction.Default()
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
