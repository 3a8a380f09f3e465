package db

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	migrate "github.com/golang-migrate/migrate/v4"
	// The following blank imports register the postgres driver and file
	// source for golang-migrate.
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/nmoreau/billing-core/internal/config"
	"github.com/nmoreau/billing-core/internal/models"
)

// ConnectAndMigrate opens the database with retries and brings the schema
// up to date. MIGRATIONS=1 runs the sql files under ./migrations through
// golang-migrate; otherwise AutoMigrate keeps dev setups working.
func ConnectAndMigrate(rawDSN string) (*gorm.DB, error) {
	dsn := NormalizeDSN(rawDSN)
	if dsn == "" {
		return nil, fmt.Errorf("DATABASE_DSN is empty, check the environment configuration")
	}
	var db *gorm.DB
	var err error
	logLevel := logger.Silent
	if os.Getenv("DB_DEBUG") == "1" {
		logLevel = logger.Info
	}
	cfg := &gorm.Config{Logger: logger.Default.LogMode(logLevel)}
	for i := 0; i < 10; i++ {
		db, err = gorm.Open(postgres.Open(dsn), cfg)
		if err == nil {
			break
		}
		fmt.Println("Retrying DB connection...", err)
		time.Sleep(2 * time.Second)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect database after retries: %w", err)
	}

	// Basic connectivity test
	if pingErr := db.Exec("SELECT 1").Error; pingErr != nil {
		return nil, fmt.Errorf("db ping failed: %w", pingErr)
	}

	// Print masked DSN once for diagnostics (before migrations for visibility)
	masked := dsn
	if strings.Contains(masked, "password=") {
		re := regexp.MustCompile(`(password=)([^\s]+)`)
		masked = re.ReplaceAllString(masked, `${1}***`)
	}
	fmt.Println("[DB] Using DSN:", masked)

	if config.ParseBool("MIGRATIONS", false) {
		if err := runSQLMigrations(ToURLDSN(dsn)); err != nil {
			return nil, fmt.Errorf("sql migrations failed: %w", err)
		}
	} else {
		if err := AutoMigrate(db); err != nil {
			return nil, err
		}
	}

	// sanity check: ensure required core tables exist
	for _, table := range []string{"companies", "documents", "document_snapshots", "download_credentials"} {
		if !db.Migrator().HasTable(table) {
			return nil, errors.New("missing table after migration: " + table)
		}
	}
	// Seeding only when explicitly requested (e.g. development) via DB_SEED=1|true
	if config.ParseBool("DB_SEED", false) {
		seed(db)
	}
	return db, nil
}

// AutoMigrate runs gorm migrations over every model in dependency order.
// Shared with the sqlite test helpers.
func AutoMigrate(db *gorm.DB) error {
	modelsToMigrate := []interface{}{
		&models.Company{}, &models.Client{}, &models.Document{}, &models.LineItem{},
		&models.DocumentSnapshot{}, &models.RenderedArtifact{}, &models.DownloadCredential{},
		&models.AuditEntry{},
	}
	for _, m := range modelsToMigrate {
		if migErr := db.AutoMigrate(m); migErr != nil {
			return fmt.Errorf("automigrate %T: %w", m, migErr)
		}
	}
	return nil
}

// seed creates a demo tenant so a fresh environment can exercise the whole
// pipeline: branded company, one client, one draft invoice.
func seed(db *gorm.DB) {
	var existing models.Company
	if err := db.Where("name = ?", "Acme Studio").First(&existing).Error; err != gorm.ErrRecordNotFound {
		return
	}
	company := models.Company{
		Name:            "Acme Studio",
		Email:           "billing@acme.example",
		AddressLine1:    "42 Rue des Artisans",
		City:            "Lyon",
		PostalCode:      "69002",
		Country:         "France",
		InvoicePrefix:   "INV-",
		QuotePrefix:     "QUO-",
		ReceiptPrefix:   "REC-",
		DefaultCurrency: "EUR",
		PrimaryColor:    "#6B46C1",
		AccentColor:     "#38A169",
		FontFamily:      "helvetica",
	}
	db.Create(&company)
	client := models.Client{
		CompanyID:    company.ID,
		Name:         "Globex SARL",
		ContactName:  "H. Simard",
		Email:        "accounts@globex.example",
		AddressLine1: "7 Avenue du Port",
		City:         "Marseille",
		PostalCode:   "13002",
		Country:      "France",
	}
	db.Create(&client)
	now := time.Now()
	doc := models.Document{
		CompanyID: company.ID,
		ClientID:  client.ID,
		Kind:      models.DocumentKindInvoice,
		Number:    "INV-0001",
		Status:    models.StatusDraft,
		IssueDate: now,
		DueDate:   now.AddDate(0, 1, 0),
		Currency:  "EUR",
		TaxRate:   decimal.RequireFromString("0.10"),
	}
	db.Create(&doc)
	lines := []models.LineItem{
		{DocumentID: doc.ID, Position: 1, Description: "Design retainer", Quantity: decimal.NewFromInt(2), UnitPrice: decimal.RequireFromString("30.00")},
		{DocumentID: doc.ID, Position: 2, Description: "Hosting (loyalty discount)", Quantity: decimal.NewFromInt(1), UnitPrice: decimal.RequireFromString("20.00"), Discount: decimal.RequireFromString("5.00")},
		{DocumentID: doc.ID, Position: 3, Description: "Stock assets", Quantity: decimal.NewFromInt(5), UnitPrice: decimal.RequireFromString("3.00")},
	}
	db.Create(&lines)
}

// runSQLMigrations executes migrations in ./migrations using golang-migrate
// file source.
func runSQLMigrations(dsn string) error {
	m, err := migrate.New("file://migrations", dsn)
	if err != nil {
		return err
	}
	if err = m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}
