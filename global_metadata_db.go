// CLP - Compressed Log Processor
// Copyright (C) 2024 CLP Authors

// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.

// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.

// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package clp

import (
	"database/sql"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// ArchiveMetadataRecord is one row of the global archives catalog.
type ArchiveMetadataRecord struct {
	ArchiveID        uuid.UUID
	CreatorID        uuid.UUID
	CreationNum      uint64
	BeginTs          int64
	EndTs            int64
	UncompressedSize uint64
	Size             uint64
	Path             string
}

// GlobalMetadataDB is the cross-archive catalog at
// <archives_root>/metadata.db, openable by path for targeted
// decompression. Archives register themselves here only at open/close
// boundaries -- one insert per archive.
type GlobalMetadataDB struct {
	db *sql.DB
}

func OpenGlobalMetadataDB(path string) (*GlobalMetadataDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS archives (
			archive_id TEXT PRIMARY KEY,
			creator_id TEXT,
			creation_num INTEGER,
			begin_ts INTEGER,
			end_ts INTEGER,
			uncompressed_size INTEGER,
			size INTEGER,
			path TEXT
		);
		CREATE TABLE IF NOT EXISTS path_index (
			orig_path TEXT,
			archive_id TEXT
		);
		CREATE INDEX IF NOT EXISTS path_index_orig_path ON path_index (orig_path);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, NewError(ErrorCodeIOError, err)
	}

	return &GlobalMetadataDB{db: db}, nil
}

func (g *GlobalMetadataDB) RegisterArchive(rec ArchiveMetadataRecord) error {
	_, err := g.db.Exec(`
		INSERT OR REPLACE INTO archives
		(archive_id, creator_id, creation_num, begin_ts, end_ts, uncompressed_size, size, path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ArchiveID.String(), rec.CreatorID.String(), rec.CreationNum, rec.BeginTs, rec.EndTs,
		rec.UncompressedSize, rec.Size, rec.Path)
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// IndexPath records that orig_path has data in archiveID, for
// path-to-archive lookups by a future reader.
func (g *GlobalMetadataDB) IndexPath(origPath string, archiveID uuid.UUID) error {
	_, err := g.db.Exec(`INSERT INTO path_index (orig_path, archive_id) VALUES (?, ?)`, origPath, archiveID.String())
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// ArchivesForPath returns the archive ids known to hold data for origPath.
func (g *GlobalMetadataDB) ArchivesForPath(origPath string) ([]uuid.UUID, error) {
	rows, err := g.db.Query(`SELECT archive_id FROM path_index WHERE orig_path = ?`, origPath)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, NewError(ErrorCodeIOError, err)
		}
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, NewError(ErrorCodeCorruptArchive, err)
		}
		out = append(out, id)
	}
	return out, nil
}

func (g *GlobalMetadataDB) Close() error {
	if err := g.db.Close(); err != nil {
		if isSQLiteBusy(err) {
			return NewError(ErrorCodeBusy, err)
		}
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// EOF
