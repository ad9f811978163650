package store

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

// Table definitions mirror the descriptors in ent/schema.

var (
	// RunsColumns holds the columns for the "runs" table.
	RunsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "domain", Type: field.TypeString},
		{Name: "version", Type: field.TypeString},
		{Name: "mode", Type: field.TypeString},
		{Name: "source", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "total", Type: field.TypeInt},
		{Name: "classified", Type: field.TypeInt},
		{Name: "skipped", Type: field.TypeInt},
		{Name: "constants", Type: field.TypeJSON, Nullable: true},
	}
	// RunsTable holds the schema information for the "runs" table.
	RunsTable = &schema.Table{
		Name:       "runs",
		Columns:    RunsColumns,
		PrimaryKey: []*schema.Column{RunsColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "run_domain_created_at",
				Unique:  false,
				Columns: []*schema.Column{RunsColumns[1], RunsColumns[5]},
			},
		},
	}
	// ResultsColumns holds the columns for the "results" table.
	ResultsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "position", Type: field.TypeInt},
		{Name: "record_id", Type: field.TypeString},
		{Name: "score", Type: field.TypeFloat64},
		{Name: "base_score", Type: field.TypeFloat64},
		{Name: "tier", Type: field.TypeString},
		{Name: "tier_label", Type: field.TypeString},
		{Name: "matched_by", Type: field.TypeString},
		{Name: "detail", Type: field.TypeJSON},
		{Name: "run_id", Type: field.TypeUUID},
	}
	// ResultsTable holds the schema information for the "results" table.
	ResultsTable = &schema.Table{
		Name:       "results",
		Columns:    ResultsColumns,
		PrimaryKey: []*schema.Column{ResultsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "results_runs_results",
				Columns:    []*schema.Column{ResultsColumns[9]},
				RefColumns: []*schema.Column{RunsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "result_run_id_position", Unique: true, Columns: []*schema.Column{ResultsColumns[9], ResultsColumns[1]}},
			{Name: "result_record_id", Unique: false, Columns: []*schema.Column{ResultsColumns[2]}},
			{Name: "result_tier", Unique: false, Columns: []*schema.Column{ResultsColumns[5]}},
		},
	}
	// SkipsColumns holds the columns for the "skips" table.
	SkipsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "position", Type: field.TypeInt},
		{Name: "record_id", Type: field.TypeString},
		{Name: "reason", Type: field.TypeString},
		{Name: "run_id", Type: field.TypeUUID},
	}
	// SkipsTable holds the schema information for the "skips" table.
	SkipsTable = &schema.Table{
		Name:       "skips",
		Columns:    SkipsColumns,
		PrimaryKey: []*schema.Column{SkipsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "skips_runs_skips",
				Columns:    []*schema.Column{SkipsColumns[4]},
				RefColumns: []*schema.Column{RunsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "skip_run_id_position", Unique: true, Columns: []*schema.Column{SkipsColumns[4], SkipsColumns[1]}},
		},
	}
	// ReconciliationsColumns holds the columns for the "reconciliations" table.
	ReconciliationsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeInt, Increment: true},
		{Name: "position", Type: field.TypeInt},
		{Name: "cluster", Type: field.TypeString},
		{Name: "demand", Type: field.TypeInt},
		{Name: "capacity", Type: field.TypeInt},
		{Name: "gap", Type: field.TypeInt},
		{Name: "status", Type: field.TypeString},
		{Name: "directive", Type: field.TypeString},
		{Name: "detail", Type: field.TypeJSON},
		{Name: "run_id", Type: field.TypeUUID},
	}
	// ReconciliationsTable holds the schema information for the "reconciliations" table.
	ReconciliationsTable = &schema.Table{
		Name:       "reconciliations",
		Columns:    ReconciliationsColumns,
		PrimaryKey: []*schema.Column{ReconciliationsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "reconciliations_runs_reconciliations",
				Columns:    []*schema.Column{ReconciliationsColumns[9]},
				RefColumns: []*schema.Column{RunsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "reconciliation_run_id_position", Unique: true, Columns: []*schema.Column{ReconciliationsColumns[9], ReconciliationsColumns[1]}},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		RunsTable,
		ResultsTable,
		SkipsTable,
		ReconciliationsTable,
	}
)

func init() {
	ResultsTable.ForeignKeys[0].RefTable = RunsTable
	SkipsTable.ForeignKeys[0].RefTable = RunsTable
	ReconciliationsTable.ForeignKeys[0].RefTable = RunsTable
}
