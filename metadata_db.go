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

/*
   Archive-local metadata catalog: the files and empty_directories tables,
   backed by SQLite via database/sql + github.com/mattn/go-sqlite3. A
   SQLITE_BUSY on close surfaces as ErrorCodeBusy.
*/

package clp

import (
	"database/sql"
	"errors"

	"github.com/google/uuid"
	sqlite3 "github.com/mattn/go-sqlite3"
)

type FileMetadataRecord struct {
	FileID               uuid.UUID
	OrigFileID           uuid.UUID
	ArchiveID            uuid.UUID
	OrigPath             string
	GroupID              uint64
	BeginTs              int64
	EndTs                int64
	NumUncompressedBytes uint64
	NumMessages          uint64
	SegmentID            uint64
	SegmentOffset        uint64
}

type MetadataDB struct {
	db *sql.DB
}

func OpenMetadataDB(path string) (*MetadataDB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}

	schema := `
		CREATE TABLE IF NOT EXISTS archives (
			archive_id TEXT PRIMARY KEY,
			begin_ts INTEGER,
			end_ts INTEGER,
			uncompressed_size INTEGER,
			size INTEGER,
			creator_id TEXT,
			creation_num INTEGER,
			storage_id TEXT
		);
		CREATE TABLE IF NOT EXISTS files (
			file_id TEXT PRIMARY KEY,
			archive_id TEXT,
			orig_file_id TEXT,
			orig_path TEXT,
			group_id INTEGER,
			begin_ts INTEGER,
			end_ts INTEGER,
			num_uncompressed_bytes INTEGER,
			num_messages INTEGER,
			segment_id INTEGER,
			segment_offset INTEGER
		);
		CREATE TABLE IF NOT EXISTS empty_directories (
			archive_id TEXT,
			path TEXT
		);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, NewError(ErrorCodeIOError, err)
	}

	return &MetadataDB{db: db}, nil
}

// PersistFileMetadata performs a prepared-statement insert for every given
// file in one transaction.
func (m *MetadataDB) PersistFileMetadata(files []FileMetadataRecord) error {
	if len(files) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO files
		(file_id, archive_id, orig_file_id, orig_path, group_id, begin_ts, end_ts,
		 num_uncompressed_bytes, num_messages, segment_id, segment_offset)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return NewError(ErrorCodeIOError, err)
	}
	defer stmt.Close()

	for _, f := range files {
		if _, err := stmt.Exec(
			f.FileID.String(), f.ArchiveID.String(), f.OrigFileID.String(), f.OrigPath,
			f.GroupID, f.BeginTs, f.EndTs, f.NumUncompressedBytes, f.NumMessages,
			f.SegmentID, f.SegmentOffset,
		); err != nil {
			tx.Rollback()
			return NewError(ErrorCodeIOError, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// PersistEmptyDirectories records directories with no files, so a reader
// can recreate them.
func (m *MetadataDB) PersistEmptyDirectories(archiveID uuid.UUID, paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	tx, err := m.db.Begin()
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	stmt, err := tx.Prepare(`INSERT INTO empty_directories (archive_id, path) VALUES (?, ?)`)
	if err != nil {
		tx.Rollback()
		return NewError(ErrorCodeIOError, err)
	}
	defer stmt.Close()
	for _, p := range paths {
		if _, err := stmt.Exec(archiveID.String(), p); err != nil {
			tx.Rollback()
			return NewError(ErrorCodeIOError, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// Close releases the database handle. A close attempted while dependent
// statements are still outstanding surfaces as ErrorCodeBusy.
func (m *MetadataDB) Close() error {
	if err := m.db.Close(); err != nil {
		if isSQLiteBusy(err) {
			return NewError(ErrorCodeBusy, err)
		}
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

func isSQLiteBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy
	}
	return false
}

// EOF
