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
	We use Go routines to manage concurrent archive writers. Each Archive
	stays single-threaded; a producer wanting several archives going at
	once gets one dedicated writer goroutine per Archive, all coordinated
	by a single WriterPool so creation_nums stay dense per creator_id.
*/

package clp

import (
	"log"
	"sync"

	"github.com/google/uuid"
)

const (
	writerCmdFlushSegment = iota
	writerCmdClose
)

// ArchiveWriter owns exactly one Archive for its lifetime and runs the
// flush and close commands for it on its own goroutine. File creation and
// message writes go straight to the Archive (see Archive()).
type ArchiveWriter struct {
	archive *Archive

	cmdCh chan int
	wg    sync.WaitGroup

	closeErrCh chan error
}

// WriterPool fans work out across N ArchiveWriters, one per concurrently
// open Archive, and assigns each a dense, monotonically increasing
// creation_num per creator_id.
type WriterPool struct {
	mu              sync.Mutex
	nextCreationNum map[uuid.UUID]uint64
	writers         []*ArchiveWriter
}

func NewWriterPool() *WriterPool {
	return &WriterPool{
		nextCreationNum: make(map[uuid.UUID]uint64),
	}
}

// Spawn opens a new Archive under cfg (whose CreationNum is overwritten
// with the next dense value for cfg.CreatorID) and starts a dedicated
// writer goroutine for it.
func (p *WriterPool) Spawn(cfg UserConfig) (*ArchiveWriter, error) {
	p.mu.Lock()
	cfg.CreationNum = p.nextCreationNum[cfg.CreatorID]
	p.nextCreationNum[cfg.CreatorID] = cfg.CreationNum + 1
	p.mu.Unlock()

	archive, err := OpenArchive(cfg)
	if err != nil {
		return nil, err
	}

	w := &ArchiveWriter{
		archive:    archive,
		cmdCh:      make(chan int),
		closeErrCh: make(chan error, 1),
	}

	p.mu.Lock()
	p.writers = append(p.writers, w)
	p.mu.Unlock()

	go w.run()

	return w, nil
}

// Archive exposes the underlying Archive so a caller can create/write/close
// files on it directly; Archive's own mutex keeps that safe even though the
// writer goroutine may concurrently be handling a flush or close command.
func (w *ArchiveWriter) Archive() *Archive { return w.archive }

// FlushSegment asks the writer goroutine to seal any pending segments now,
// regardless of target size, then waits for it to finish.
func (w *ArchiveWriter) FlushSegment() {
	w.wg.Add(1)
	w.cmdCh <- writerCmdFlushSegment
	w.wg.Wait()
}

// Close asks the writer goroutine to close the archive and shut itself
// down, blocking until it has.
func (w *ArchiveWriter) Close() error {
	w.wg.Add(1)
	w.cmdCh <- writerCmdClose
	w.wg.Wait()
	return <-w.closeErrCh
}

func (w *ArchiveWriter) run() {
	for cmd := range w.cmdCh {
		switch cmd {
		case writerCmdFlushSegment:
			if err := w.archive.FlushPendingSegments(); err != nil {
				log.Printf("Error flushing segments for archive %s: %v", w.archive.GetID(), err)
			}
			w.wg.Done()

		case writerCmdClose:
			log.Printf("Closing archive %s", w.archive.GetID())
			w.closeErrCh <- w.archive.Close()
			w.wg.Done()
			return
		}
	}
}

// CloseAll closes every writer the pool has spawned, collecting the first
// error encountered; closing still attempts every archive.
func (p *WriterPool) CloseAll() error {
	p.mu.Lock()
	writers := p.writers
	p.writers = nil
	p.mu.Unlock()

	var firstErr error
	for _, w := range writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// EOF
