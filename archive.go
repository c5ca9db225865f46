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
   Archive is the writer-side orchestrator: it owns the two dictionaries,
   keeps two open segments (one for files with timestamps, one without),
   packs released files into whichever segment they belong to, and
   persists file/segment metadata as each segment seals.
*/

package clp

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// UserConfig is everything the caller supplies to open an Archive.
type UserConfig struct {
	ID          uuid.UUID
	CreatorID   uuid.UUID
	CreationNum uint64

	OutputDir string

	TargetSegmentUncompressedSize uint64
	CompressionLevel              uint32

	// Encrypt turns on AES-256-GCM sealing of every on-disk section.
	// The active key always comes from the process's loaded keystore
	// (ConfigureEncryptionKeystore), never a literal.
	Encrypt bool

	GlobalMetadataDB *GlobalMetadataDB
}

// Archive is single-threaded per instance: a producer writing multiple
// archives concurrently does so with one Archive per goroutine,
// coordinated by WriterPool.
type Archive struct {
	mu sync.Mutex

	cfg UserConfig

	path        string
	logsDir     string
	segmentsDir string

	logTypeDict *Dictionary
	varDict     *Dictionary
	encoder     *MessageEncoder

	mutableFiles          map[uuid.UUID]*File
	releasedButDirtyFiles map[uuid.UUID]*File

	// distinct original paths whose data landed in this archive, indexed
	// into the global path_index at close
	origPaths map[string]struct{}

	nextSegmentID uint64

	// Held open for the archive's whole lifetime so Close can fsync the
	// directories themselves, not just the files inside them.
	logsDirFd     *os.File
	segmentsDirFd *os.File

	segTs   *Segment
	segNoTs *Segment

	pendingTs   []*File
	pendingNoTs []*File

	// pendingTsSize/pendingNoTsSize are the sum of each pending file's
	// uncompressed bytes, tracked separately from Segment.UncompressedSize
	// since files only actually join a Segment at seal time -- the open
	// segment's own size stays zero until then, so it can't drive the
	// size-based sealing decision itself.
	pendingTsSize   uint64
	pendingNoTsSize uint64

	stableUncompressedSize uint64
	stableSize             uint64

	beginTs int64
	endTs   int64

	// Byte size of each on-disk dictionary file so far, and the file
	// offset of the most recent snapshot (chained into the next one's
	// header so a reader can walk snapshots backwards).
	logtypeDictSize    uint32
	varDictSize        uint32
	logtypeSnapshotOfs uint32
	varSnapshotOfs     uint32

	metadataDB *MetadataDB

	closed bool
}

// fileLess is the total order of files within a segment:
// (group_id asc, end_ts asc, orig_path lexicographic asc, id asc).
// Group-id first enables grouped decompression; end-ts second gives
// locality for time-range queries.
func fileLess(a, b *File) bool {
	if a.GetGroupID() != b.GetGroupID() {
		return a.GetGroupID() < b.GetGroupID()
	}
	if a.GetEndTs() != b.GetEndTs() {
		return a.GetEndTs() < b.GetEndTs()
	}
	if a.GetOrigPath() != b.GetOrigPath() {
		return a.GetOrigPath() < b.GetOrigPath()
	}
	return a.GetID().String() < b.GetID().String()
}

// OpenArchive creates the archive directory layout and returns a
// ready-to-use Archive.
func OpenArchive(cfg UserConfig) (*Archive, error) {
	path := filepath.Join(cfg.OutputDir, cfg.ID.String())
	logsDir := filepath.Join(path, "logs")
	segmentsDir := filepath.Join(path, "segments")

	if _, err := os.Stat(path); err == nil {
		return nil, NewError(ErrorCodeDuplicate, fmt.Errorf("archive %s already exists", cfg.ID))
	}

	for _, dir := range []string{path, logsDir, segmentsDir} {
		if err := os.MkdirAll(dir, NewDirPermissions); err != nil {
			return nil, NewError(ErrorCodeIOError, err)
		}
	}

	logsDirFd, err := os.Open(logsDir)
	if err != nil {
		return nil, NewError(ErrorCodeIOError, err)
	}
	segmentsDirFd, err := os.Open(segmentsDir)
	if err != nil {
		logsDirFd.Close()
		return nil, NewError(ErrorCodeIOError, err)
	}

	metadataDB, err := OpenMetadataDB(filepath.Join(path, "metadata.db"))
	if err != nil {
		logsDirFd.Close()
		segmentsDirFd.Close()
		return nil, err
	}

	logTypeDict := NewDictionary()
	varDict := NewDictionary()

	a := &Archive{
		cfg:                   cfg,
		path:                  path,
		logsDir:               logsDir,
		segmentsDir:           segmentsDir,
		logsDirFd:             logsDirFd,
		segmentsDirFd:         segmentsDirFd,
		logTypeDict:           logTypeDict,
		varDict:               varDict,
		encoder:               NewMessageEncoder(logTypeDict, varDict),
		mutableFiles:          make(map[uuid.UUID]*File),
		releasedButDirtyFiles: make(map[uuid.UUID]*File),
		origPaths:             make(map[string]struct{}),
		segTs:                 NewSegment(0),
		segNoTs:               NewSegment(1),
		nextSegmentID:         2,
		beginTs:               NoTimestamp,
		endTs:                 NoTimestamp,
		metadataDB:            metadataDB,
	}

	return a, nil
}

func (a *Archive) GetID() uuid.UUID { return a.cfg.ID }

// CreateInMemoryFile registers a new in-memory File (create_in_memory_file).
func (a *Archive) CreateInMemoryFile(origPath string, groupID uint64, origFileID uuid.UUID, splitIx uint32) *File {
	a.mu.Lock()
	defer a.mu.Unlock()

	f := OpenInMemoryFile(origPath, groupID, origFileID, splitIx)
	a.mutableFiles[f.GetID()] = f
	return f
}

// CreateOnDiskFile registers a new File streamed straight to a scratch
// file under logs/ (create_on_disk_file).
func (a *Archive) CreateOnDiskFile(origPath string, groupID uint64, origFileID uuid.UUID, splitIx uint32) (*File, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	id := uuid.New()
	scratchPath := filepath.Join(a.logsDir, id.String())
	f, err := OpenOnDiskFile(origPath, groupID, origFileID, splitIx, scratchPath)
	if err != nil {
		return nil, err
	}
	// OpenOnDiskFile assigns its own random id; keep the map keyed on it.
	a.mutableFiles[f.GetID()] = f
	return f, nil
}

func (a *Archive) IsFileOpen(f *File) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.mutableFiles[f.GetID()]
	return ok && f.IsOpen()
}

// WriteMessage encodes and appends one message to f.
func (a *Archive) WriteMessage(f *File, ts int64, body string, numUncompressedBytes uint32) error {
	if !a.IsFileOpen(f) {
		return NewError(ErrorCodeNotInit, fmt.Errorf("file %s is not open on this archive", f.GetOrigPath()))
	}
	return a.encoder.Encode(f, ts, body, numUncompressedBytes)
}

func (a *Archive) ChangeTsPattern(f *File, p TimestampPattern) {
	f.ChangeTsPattern(p)
}

// CloseFile closes f for writing and moves it to the released-but-dirty
// set; in-memory files are materialized to disk at this point, and the
// storage mode never changes again after release.
func (a *Archive) CloseFile(f *File) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := f.Close(); err != nil {
		return err
	}

	if f.mode == storageInMemory {
		scratchPath := filepath.Join(a.logsDir, f.GetID().String())
		if err := f.ReleaseInMemoryFileToDisk(scratchPath); err != nil {
			return err
		}
	}

	delete(a.mutableFiles, f.GetID())
	a.releasedButDirtyFiles[f.GetID()] = f

	return nil
}

// MarkFileReadyForSegment moves a released file into the pending ordered
// set for its destination segment (routed by HasTimestamp), ready to be
// appended the next time that segment seals.
func (a *Archive) MarkFileReadyForSegment(f *File) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.releasedButDirtyFiles[f.GetID()]; !ok {
		return NewError(ErrorCodeNotInit, fmt.Errorf("file %s not released", f.GetOrigPath()))
	}
	delete(a.releasedButDirtyFiles, f.GetID())

	if f.HasTimestamp() {
		a.pendingTs = insertSorted(a.pendingTs, f)
		a.pendingTsSize += f.GetNumUncompressedBytes()
		if f.GetBeginTs() < a.beginTs || a.beginTs == NoTimestamp {
			a.beginTs = f.GetBeginTs()
		}
		if f.GetEndTs() > a.endTs {
			a.endTs = f.GetEndTs()
		}
	} else {
		a.pendingNoTs = insertSorted(a.pendingNoTs, f)
		a.pendingNoTsSize += f.GetNumUncompressedBytes()
	}

	return a.sealIfDueLocked()
}

func insertSorted(files []*File, f *File) []*File {
	i := sort.Search(len(files), func(i int) bool { return !fileLess(files[i], f) })
	files = append(files, nil)
	copy(files[i+1:], files[i:])
	files[i] = f
	return files
}

// sealIfDueLocked seals whichever open segment(s) have reached their
// target size. Caller must hold a.mu.
func (a *Archive) sealIfDueLocked() error {
	if a.pendingTsSize >= a.cfg.TargetSegmentUncompressedSize && len(a.pendingTs) > 0 {
		if err := a.closeSegmentAndPersistFileMetadataLocked(a.segTs, &a.pendingTs); err != nil {
			return err
		}
		a.segTs = NewSegment(a.nextSegmentID)
		a.nextSegmentID++
		a.pendingTsSize = 0
	}
	if a.pendingNoTsSize >= a.cfg.TargetSegmentUncompressedSize && len(a.pendingNoTs) > 0 {
		if err := a.closeSegmentAndPersistFileMetadataLocked(a.segNoTs, &a.pendingNoTs); err != nil {
			return err
		}
		a.segNoTs = NewSegment(a.nextSegmentID)
		a.nextSegmentID++
		a.pendingNoTsSize = 0
	}
	return nil
}

// FlushPendingSegments seals any open segment that has at least one
// pending file, regardless of whether it has reached its target size yet.
// Used by WriterPool on an explicit flush command.
func (a *Archive) FlushPendingSegments() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.pendingTs) > 0 {
		if err := a.closeSegmentAndPersistFileMetadataLocked(a.segTs, &a.pendingTs); err != nil {
			return err
		}
		a.segTs = NewSegment(a.nextSegmentID)
		a.nextSegmentID++
		a.pendingTsSize = 0
	}
	if len(a.pendingNoTs) > 0 {
		if err := a.closeSegmentAndPersistFileMetadataLocked(a.segNoTs, &a.pendingNoTs); err != nil {
			return err
		}
		a.segNoTs = NewSegment(a.nextSegmentID)
		a.nextSegmentID++
		a.pendingNoTsSize = 0
	}
	return nil
}

// closeSegmentAndPersistFileMetadataLocked appends every pending file to
// seg in comparator order, seals it, writes it to segments/, and persists
// the metadata of all files that joined it in one transaction, so sealing
// is atomic with respect to metadata persistence. Caller must hold a.mu.
func (a *Archive) closeSegmentAndPersistFileMetadataLocked(seg *Segment, pending *[]*File) error {
	files := *pending
	*pending = nil

	for _, f := range files {
		if err := seg.AppendFile(f); err != nil {
			return err
		}
	}

	sealed, err := seg.Seal(a.cfg.Encrypt)
	if err != nil {
		return err
	}

	segPath := filepath.Join(a.segmentsDir, fmt.Sprintf("%d", seg.ID()))
	if err := os.WriteFile(segPath, sealed, NewFilePermissions); err != nil {
		return NewError(ErrorCodeIOError, err)
	}

	a.stableUncompressedSize += seg.UncompressedSize()
	a.stableSize += uint64(len(sealed))

	offsets := seg.FileOffsets()
	records := make([]FileMetadataRecord, 0, len(files))
	for i, f := range files {
		records = append(records, FileMetadataRecord{
			FileID:               f.GetID(),
			OrigFileID:           f.GetOrigFileID(),
			ArchiveID:            a.cfg.ID,
			OrigPath:             f.GetOrigPath(),
			GroupID:              f.GetGroupID(),
			BeginTs:              f.GetBeginTs(),
			EndTs:                f.GetEndTs(),
			NumUncompressedBytes: f.GetNumUncompressedBytes(),
			NumMessages:          f.GetNumMessages(),
			SegmentID:            seg.ID(),
			SegmentOffset:        offsets[i],
		})
		a.origPaths[f.GetOrigPath()] = struct{}{}
	}

	if err := a.metadataDB.PersistFileMetadata(records); err != nil {
		return err
	}

	log.Printf("archive %s: sealed segment %d (%d files, %d->%d bytes)",
		a.cfg.ID, seg.ID(), len(files), seg.UncompressedSize(), len(sealed))

	return nil
}

// WriteDirSnapshot flushes both dictionaries' incremental tails to disk.
func (a *Archive) WriteDirSnapshot() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeDictSnapshotsLocked()
}

func (a *Archive) writeDictSnapshotsLocked() error {
	if err := a.writeOneDictSnapshotLocked(a.logTypeDict, filepath.Join(a.path, "logtype.dict"),
		&a.logtypeDictSize, &a.logtypeSnapshotOfs); err != nil {
		return err
	}
	return a.writeOneDictSnapshotLocked(a.varDict, filepath.Join(a.path, "var.dict"),
		&a.varDictSize, &a.varSnapshotOfs)
}

// writeOneDictSnapshotLocked appends the dictionary's unpersisted tail to
// its .dict file and, when the tail was non-empty, records
// (first_new_id, snapshot_offset) in the sibling .index file so a reader
// can seek straight to the snapshot holding a given id.
func (a *Archive) writeOneDictSnapshotLocked(d *Dictionary, dictFile string, size, prevOfs *uint32) error {
	firstNewID := uint64(d.SnapshotCount())

	snapshot, err := d.WriteSnapshot(section_dict_snapshot, *prevOfs, a.cfg.Encrypt)
	if err != nil {
		return err
	}
	if err := appendToFile(dictFile, snapshot); err != nil {
		return err
	}

	ofs := *size
	*prevOfs = ofs
	*size += uint32(len(snapshot))

	if uint64(d.SnapshotCount()) > firstNewID {
		index := make([]byte, 0, 12)
		addMultibyteToData(&index, firstNewID, 8)
		addMultibyteToData(&index, uint64(ofs), 4)
		if err := appendToFile(dictFile+".index", index); err != nil {
			return err
		}
	}

	return nil
}

func appendToFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, NewFilePermissions)
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

func (a *Archive) GetDataSizeOfDictionaries() int {
	return a.logTypeDict.DataSize() + a.varDict.DataSize()
}

// Close seals both open segments (even if under target), flushes
// remaining dictionaries, writes the archive-level metadata header,
// registers the archive in the global metadata DB, then releases
// resources. An error midway still attempts to release every descriptor.
func (a *Archive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if len(a.pendingTs) > 0 {
		record(a.closeSegmentAndPersistFileMetadataLocked(a.segTs, &a.pendingTs))
	}
	if len(a.pendingNoTs) > 0 {
		record(a.closeSegmentAndPersistFileMetadataLocked(a.segNoTs, &a.pendingNoTs))
	}

	record(a.writeDictSnapshotsLocked())

	record(writeMetadataHeader(a))

	if a.cfg.GlobalMetadataDB != nil {
		record(a.cfg.GlobalMetadataDB.RegisterArchive(ArchiveMetadataRecord{
			ArchiveID:        a.cfg.ID,
			CreatorID:        a.cfg.CreatorID,
			CreationNum:      a.cfg.CreationNum,
			BeginTs:          a.beginTs,
			EndTs:            a.endTs,
			UncompressedSize: a.stableUncompressedSize,
			Size:             a.stableSize,
			Path:             a.path,
		}))
		for p := range a.origPaths {
			record(a.cfg.GlobalMetadataDB.IndexPath(p, a.cfg.ID))
		}
	}

	record(a.metadataDB.Close())
	record(a.logTypeDict.Close())
	record(a.varDict.Close())

	// Scratch streams have all been folded into sealed segments by now.
	record(syncAndCloseDir(a.logsDirFd))
	if err := os.RemoveAll(a.logsDir); err != nil {
		record(NewError(ErrorCodeIOError, err))
	}

	// Sync the segments directory so the sealed segment files and their
	// names are durable, then release the descriptor (held since
	// OpenArchive).
	record(syncAndCloseDir(a.segmentsDirFd))

	return firstErr
}

func syncAndCloseDir(d *os.File) error {
	if d == nil {
		return nil
	}
	err := d.Sync()
	if closeErr := d.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return NewError(ErrorCodeIOError, err)
	}
	return nil
}

// EOF
