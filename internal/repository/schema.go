package repository

import "newroi/ledger-service/pkg/db"

// ExpectedSchema lists the columns the repositories read and write.
// It is checked at startup by db.SchemaGuard.
var ExpectedSchema = []db.TableSchema{
	{
		Name: "users",
		Columns: []db.ColumnType{
			{Name: "id", DataType: "bigint"},
			{Name: "email", DataType: "varchar"},
			{Name: "balance", DataType: "decimal"},
			{Name: "referral_code", DataType: "varchar"},
			{Name: "upline_id", DataType: "bigint", Nullable: true},
			{Name: "role", DataType: "enum"},
		},
	},
	{
		Name: "investments",
		Columns: []db.ColumnType{
			{Name: "id", DataType: "bigint"},
			{Name: "user_id", DataType: "bigint"},
			{Name: "amount", DataType: "decimal"},
			{Name: "roi_rate", DataType: "decimal"},
			{Name: "status", DataType: "enum"},
			{Name: "total_roi_paid", DataType: "decimal"},
		},
	},
	{
		Name: "transactions",
		Columns: []db.ColumnType{
			{Name: "id", DataType: "bigint"},
			{Name: "user_id", DataType: "bigint"},
			{Name: "type", DataType: "enum"},
			{Name: "amount", DataType: "decimal"},
			{Name: "previous_balance", DataType: "decimal"},
			{Name: "new_balance", DataType: "decimal"},
			{Name: "status", DataType: "enum"},
			{Name: "ledger_date", DataType: "date", Nullable: true},
			{Name: "idempotency_key", DataType: "varchar", Nullable: true},
			{Name: "completed_at", DataType: "datetime", Nullable: true},
		},
	},
	{
		Name: "system_settings",
		Columns: []db.ColumnType{
			{Name: "id", DataType: "bigint"},
			{Name: "daily_roi_percent", DataType: "decimal"},
			{Name: "level_commissions", DataType: "json"},
			{Name: "level_unlock_thresholds", DataType: "json"},
		},
	},
	{
		Name: "distribution_runs",
		Columns: []db.ColumnType{
			{Name: "run_id", DataType: "char"},
			{Name: "run_date", DataType: "date"},
			{Name: "force_rerun", DataType: "tinyint"},
		},
	},
}
