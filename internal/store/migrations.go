package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations. Statements stay
// within the SQL subset shared by SQLite and Postgres; timestamps are written
// by the application.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create agents and tasks",
		SQL: `
			CREATE TABLE agents (
				id                TEXT PRIMARY KEY,
				tenant_id         TEXT NOT NULL,
				name              TEXT NOT NULL,
				sector            TEXT NOT NULL DEFAULT '',
				status            TEXT NOT NULL DEFAULT 'idle',
				capabilities      TEXT NOT NULL DEFAULT '[]',
				max_concurrent    INTEGER NOT NULL DEFAULT 1,
				current_tasks     INTEGER NOT NULL DEFAULT 0,
				performance_score DOUBLE PRECISION NOT NULL DEFAULT 0,
				success_rate      DOUBLE PRECISION NOT NULL DEFAULT 0,
				tasks_completed   INTEGER NOT NULL DEFAULT 0,
				created_at        TIMESTAMP NOT NULL,
				updated_at        TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_agents_tenant_status ON agents (tenant_id, status);
			CREATE INDEX idx_agents_tenant_sector ON agents (tenant_id, sector);

			CREATE TABLE tasks (
				id                    TEXT PRIMARY KEY,
				tenant_id             TEXT NOT NULL,
				title                 TEXT NOT NULL,
				description           TEXT NOT NULL DEFAULT '',
				type                  TEXT NOT NULL DEFAULT '',
				sector                TEXT NOT NULL DEFAULT '',
				priority              TEXT NOT NULL DEFAULT 'medium',
				status                TEXT NOT NULL DEFAULT 'pending',
				required_capabilities TEXT NOT NULL DEFAULT '[]',
				depends_on            TEXT NOT NULL DEFAULT '[]',
				estimated_minutes     INTEGER NOT NULL DEFAULT 30,
				assigned_agent_id     TEXT NOT NULL DEFAULT '',
				created_at            TIMESTAMP NOT NULL,
				updated_at            TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_tasks_tenant_status ON tasks (tenant_id, status, created_at);
		`,
	},
	{
		Version: 2,
		Name:    "create orchestration queue",
		SQL: `
			CREATE TABLE orchestration_queue (
				id             TEXT PRIMARY KEY,
				tenant_id      TEXT NOT NULL,
				plan_id        TEXT NOT NULL,
				task_id        TEXT NOT NULL,
				agent_id       TEXT NOT NULL,
				status         TEXT NOT NULL DEFAULT 'queued',
				priority       INTEGER NOT NULL DEFAULT 2,
				parallel_group INTEGER NOT NULL DEFAULT 0,
				score          DOUBLE PRECISION NOT NULL DEFAULT 0,
				attempts       INTEGER NOT NULL DEFAULT 0,
				last_error     TEXT NOT NULL DEFAULT '',
				created_at     TIMESTAMP NOT NULL,
				updated_at     TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_queue_tenant_status ON orchestration_queue (tenant_id, status);
			CREATE INDEX idx_queue_agent ON orchestration_queue (tenant_id, agent_id, status);
			CREATE INDEX idx_queue_task ON orchestration_queue (tenant_id, task_id);
		`,
	},
	{
		Version: 3,
		Name:    "create swarms",
		SQL: `
			CREATE TABLE swarms (
				id             TEXT PRIMARY KEY,
				tenant_id      TEXT NOT NULL,
				objective      TEXT NOT NULL,
				formation      TEXT NOT NULL,
				leader_id      TEXT NOT NULL,
				status         TEXT NOT NULL,
				requested_size INTEGER NOT NULL,
				partial        BOOLEAN NOT NULL DEFAULT FALSE,
				created_at     TIMESTAMP NOT NULL,
				updated_at     TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_swarms_tenant ON swarms (tenant_id, status);

			CREATE TABLE swarm_members (
				swarm_id TEXT NOT NULL REFERENCES swarms(id) ON DELETE CASCADE,
				agent_id TEXT NOT NULL,
				name     TEXT NOT NULL,
				sector   TEXT NOT NULL DEFAULT '',
				role     TEXT NOT NULL,
				score    DOUBLE PRECISION NOT NULL DEFAULT 0,
				PRIMARY KEY (swarm_id, agent_id)
			);
		`,
	},
	{
		Version: 4,
		Name:    "create shared dashboards",
		SQL: `
			CREATE TABLE dashboards (
				id          TEXT PRIMARY KEY,
				tenant_id   TEXT NOT NULL,
				owner_id    TEXT NOT NULL,
				name        TEXT NOT NULL,
				description TEXT NOT NULL DEFAULT '',
				kind        TEXT NOT NULL,
				layout      TEXT NOT NULL DEFAULT '{}',
				is_public   BOOLEAN NOT NULL DEFAULT FALSE,
				created_at  TIMESTAMP NOT NULL,
				updated_at  TIMESTAMP NOT NULL
			);

			CREATE INDEX idx_dashboards_tenant ON dashboards (tenant_id);

			CREATE TABLE dashboard_members (
				dashboard_id TEXT NOT NULL REFERENCES dashboards(id) ON DELETE CASCADE,
				user_id      TEXT NOT NULL,
				role         TEXT NOT NULL,
				added_at     TIMESTAMP NOT NULL,
				PRIMARY KEY (dashboard_id, user_id)
			);

			CREATE INDEX idx_dashboard_members_user ON dashboard_members (user_id);
		`,
	},
	{
		Version: 5,
		Name:    "create hub connections and fleet targets",
		SQL: `
			CREATE TABLE hub_connections (
				id             TEXT PRIMARY KEY,
				tenant_id      TEXT NOT NULL,
				source_hub     TEXT NOT NULL,
				target_hub     TEXT NOT NULL,
				status         TEXT NOT NULL,
				latency_ms     INTEGER NOT NULL DEFAULT 0,
				bandwidth_mbps DOUBLE PRECISION NOT NULL DEFAULT 0,
				updated_at     TIMESTAMP NOT NULL,
				UNIQUE (tenant_id, source_hub, target_hub)
			);

			CREATE TABLE fleet_targets (
				tenant_id  TEXT NOT NULL,
				sector     TEXT NOT NULL,
				target     INTEGER NOT NULL,
				updated_at TIMESTAMP NOT NULL,
				PRIMARY KEY (tenant_id, sector)
			);
		`,
	},
}
