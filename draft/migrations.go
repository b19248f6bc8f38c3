package draft

import "github.com/koinonia/draftsafe/db/monarch"

// Migrations returns the database migrations for drafts.
func Migrations() monarch.Set {
	return monarch.Set{
		Name: "draft",
		Migrations: []monarch.Migration{
			{
				Up: `CREATE TABLE IF NOT EXISTS draft (
					id TEXT PRIMARY KEY,
					owner_id TEXT NOT NULL,
					linked_post TEXT NOT NULL DEFAULT '',
					title TEXT NOT NULL DEFAULT '',
					payload TEXT NOT NULL DEFAULT '{}',
					version INTEGER NOT NULL DEFAULT 1,
					last_autosave_at datetime NOT NULL,
					created_at datetime NOT NULL,
					updated_at datetime NOT NULL
				);`,
				Down: `DROP TABLE draft;`,
			},
			{
				// one active draft per owner per post
				Up:   `CREATE UNIQUE INDEX IF NOT EXISTS draft_owner_post ON draft (owner_id, linked_post);`,
				Down: `DROP INDEX draft_owner_post;`,
			},
			{
				Up:   `CREATE INDEX IF NOT EXISTS draft_updated ON draft (owner_id, updated_at DESC);`,
				Down: `DROP INDEX draft_updated;`,
			},
		},
	}
}
