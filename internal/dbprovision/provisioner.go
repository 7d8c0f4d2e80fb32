package dbprovision

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/turbobackend/worker/internal/activity"
	"github.com/turbobackend/worker/internal/models"
	"github.com/turbobackend/worker/internal/store"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// DBNameFor derives the deterministic per-project database slug (§4.5:
// "dbName is the deterministic slug"), e.g. "turbobackend_proj_p2".
func DBNameFor(projectID string) string {
	slug := slugSanitizer.ReplaceAllString(strings.ToLower(projectID), "_")
	return "turbobackend_proj_" + slug
}

// DatabaseInfo is the provisioner's return value: cluster connection
// parameters plus the designed schema, handed to the sandbox so its .env
// can be populated (§4.6).
type DatabaseInfo struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	Schema   *Schema
}

// Provisioner runs the five-step provisioning sequence (§4.5).
type Provisioner struct {
	cluster store.ClusterConfig
	ledger  *activity.Ledger
}

func NewProvisioner(cluster store.ClusterConfig, ledger *activity.Ledger) *Provisioner {
	return &Provisioner{cluster: cluster, ledger: ledger}
}

// Provision executes steps 1-5. outerTx is the pipeline's single
// transaction on the control database (§11); all control-DB writes in this
// method run against it so a later pipeline failure rolls everything back
// together, per §4.5 step 3's note that the enclosing outer transaction
// rolls back too.
func (p *Provisioner) Provision(ctx context.Context, queries *store.Queries, outerTx pgx.Tx, projectID, userID, environment string, schema *Schema) (*DatabaseInfo, error) {
	dbName := DBNameFor(projectID)

	// Step 1: create the database on the cluster's administrative connection.
	if err := p.createDatabase(ctx, dbName); err != nil {
		return nil, fmt.Errorf("create project database: %w", err)
	}

	// Step 2: write the Project-Database row in the outer transaction.
	dbRecord := models.ProjectDatabase{
		DatabaseID:  uuid.NewString(),
		ProjectID:   projectID,
		UserID:      userID,
		DBName:      dbName,
		SchemaName:  "public",
		Environment: environment,
		IsActive:    true,
		CreatedAt:   time.Now(),
	}
	if err := queries.SetActiveProjectDatabase(ctx, dbRecord); err != nil {
		return nil, fmt.Errorf("record project database: %w", err)
	}

	// Step 3: open a transaction against the new database, run each
	// createQuery, commit on success — roll back and surface on any error.
	ddlErr := p.runDDL(ctx, dbName, schema)

	// Step 4: write a Generated-Query row per attempted statement, in the
	// outer connection, regardless of whether step 3 succeeded.
	for _, table := range schema.Tables {
		status := models.QueryExecuted
		errMsg := ""
		if ddlErr != nil {
			status = models.QueryFailed
			errMsg = ddlErr.Error()
		}
		q := models.GeneratedQuery{
			QueryID:         uuid.NewString(),
			ProjectID:       projectID,
			QueryText:       table.CreateQuery,
			QueryType:       "CREATE TABLE",
			SchemaName:      "public",
			ExecutionStatus: status,
			ErrorMessage:    errMsg,
			Environment:     environment,
			CreatedAt:       time.Now(),
		}
		if err := queries.CreateGeneratedQuery(ctx, q); err != nil {
			return nil, fmt.Errorf("record generated query: %w", err)
		}
	}

	if ddlErr != nil {
		return nil, fmt.Errorf("apply designed schema: %w", ddlErr)
	}

	// Step 5: emit the database_created activity entry.
	p.ledger.Record(ctx, models.ActivityEntry{
		ActionID:    uuid.NewString(),
		ProjectID:   projectID,
		UserID:      userID,
		ActionType:  models.ActionDatabaseCreated,
		Environment: environment,
		ReferenceIDs: map[string]string{
			"database_id":   dbRecord.DatabaseID,
			"database_name": dbName,
		},
		CreatedAt: time.Now(),
	})

	return &DatabaseInfo{
		Host:     p.cluster.Host,
		Port:     p.cluster.Port,
		User:     p.cluster.User,
		Password: p.cluster.Password,
		DBName:   dbName,
		Schema:   schema,
	}, nil
}

func (p *Provisioner) adminDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=postgres sslmode=%s",
		p.cluster.Host, p.cluster.Port, p.cluster.User, p.cluster.Password, p.cluster.SSLMode)
}

func (p *Provisioner) databaseDSN(dbName string) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.cluster.Host, p.cluster.Port, p.cluster.User, p.cluster.Password, dbName, p.cluster.SSLMode)
}

func (p *Provisioner) createDatabase(ctx context.Context, dbName string) error {
	conn, err := pgx.Connect(ctx, p.adminDSN())
	if err != nil {
		return fmt.Errorf("connect to cluster admin database: %w", err)
	}
	defer conn.Close(ctx)

	// CREATE DATABASE cannot run inside a transaction or take a parameter;
	// dbName is our own deterministic slug, never user-supplied text.
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %s`, pgx.Identifier{dbName}.Sanitize())); err != nil {
		return fmt.Errorf("create database %s: %w", dbName, err)
	}
	return nil
}

// ApplyQueries runs arbitrary DDL statements against an existing project
// database, one transaction for the whole batch (§M7: applying CREATE
// TABLE commands the agentic loop produced during a modification job).
func (p *Provisioner) ApplyQueries(ctx context.Context, dbName string, statements []string) error {
	pool, err := pgxpool.New(ctx, p.databaseDSN(dbName))
	if err != nil {
		return fmt.Errorf("connect to project database: %w", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin query batch transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply query: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit query batch transaction: %w", err)
	}
	return nil
}

func (p *Provisioner) runDDL(ctx context.Context, dbName string, schema *Schema) error {
	pool, err := pgxpool.New(ctx, p.databaseDSN(dbName))
	if err != nil {
		return fmt.Errorf("connect to project database: %w", err)
	}
	defer pool.Close()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range schema.Tables {
		if _, err := tx.Exec(ctx, table.CreateQuery); err != nil {
			return fmt.Errorf("create table %s: %w", table.TableName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema transaction: %w", err)
	}
	return nil
}
