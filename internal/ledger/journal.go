package ledger

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Journal is the durable side of the ledger: an append-only file of
// JSON-encoded UsageEvents, one object per line, partitioned by calendar
// day (usage-2006-01-02.jsonl). Writes happen on a dedicated goroutine so
// budget-critical decisions never block on disk latency; a full buffer
// drops the durable copy (and logs it) rather than stalling the hot path.
type Journal struct {
	dir string

	ch        chan UsageEvent
	flushCh   chan chan struct{}
	done      chan struct{}
	closeOnce sync.Once

	// Writer-goroutine state; never touched from other goroutines.
	file *os.File
	bw   *bufio.Writer
	day  string

	now func() time.Time // test hook
}

// OpenJournal creates the journal directory if needed and starts the writer
// goroutine.
func OpenJournal(dir string, buffer int) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("ledger: create journal directory %s: %w", dir, err)
	}
	if buffer < 1 {
		buffer = 1
	}

	j := &Journal{
		dir:     dir,
		ch:      make(chan UsageEvent, buffer),
		flushCh: make(chan chan struct{}),
		done:    make(chan struct{}),
		now:     time.Now,
	}
	go j.loop()
	return j, nil
}

// Append hands an event to the writer goroutine. It never blocks: when the
// buffer is full the event is dropped from the durable log with a warning.
func (j *Journal) Append(ev UsageEvent) {
	select {
	case j.ch <- ev:
	case <-j.done:
	default:
		log.Warn().Str("event_id", ev.ID).Msg("ledger: journal buffer full, dropping durable copy")
	}
}

// Flush blocks until all events appended so far have been written and synced
// to the current day file.
func (j *Journal) Flush() {
	ack := make(chan struct{})
	select {
	case j.flushCh <- ack:
		<-ack
	case <-j.done:
	}
}

// Close drains pending events, syncs the file, and stops the writer.
// It is safe to call Close multiple times.
func (j *Journal) Close() {
	j.closeOnce.Do(func() {
		j.Flush()
		close(j.done)
	})
}

// loop is the writer goroutine.
func (j *Journal) loop() {
	defer func() {
		if j.bw != nil {
			j.bw.Flush()
		}
		if j.file != nil {
			j.file.Close()
		}
	}()

	for {
		select {
		case ev := <-j.ch:
			j.write(ev)
		case ack := <-j.flushCh:
			j.drain()
			close(ack)
		case <-j.done:
			j.drain()
			return
		}
	}
}

// drain writes everything currently buffered and flushes to disk.
func (j *Journal) drain() {
	for {
		select {
		case ev := <-j.ch:
			j.write(ev)
		default:
			if j.bw != nil {
				j.bw.Flush()
			}
			return
		}
	}
}

// write appends one event to the file for its calendar day, rotating the
// open file when the day changes.
func (j *Journal) write(ev UsageEvent) {
	day := ev.Timestamp.UTC().Format("2006-01-02")
	if j.file == nil || day != j.day {
		if j.bw != nil {
			j.bw.Flush()
		}
		if j.file != nil {
			j.file.Close()
		}
		f, err := os.OpenFile(j.path(day), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			log.Error().Err(err).Str("day", day).Msg("ledger: opening journal file")
			j.file = nil
			j.bw = nil
			return
		}
		j.file = f
		j.bw = bufio.NewWriter(f)
		j.day = day
	}

	line, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("event_id", ev.ID).Msg("ledger: encoding journal event")
		return
	}
	j.bw.Write(line)
	j.bw.WriteByte('\n')
}

// path returns the journal file path for a calendar day.
func (j *Journal) path(day string) string {
	return filepath.Join(j.dir, "usage-"+day+".jsonl")
}

// ReplayInto reads the journal file for the current day (if any) and records
// each event into the ledger, restoring today's spend after a restart.
// Corrupt lines are logged and skipped. Replayed events are not re-journaled.
func (j *Journal) ReplayInto(l *Ledger) (int, error) {
	day := j.now().UTC().Format("2006-01-02")
	f, err := os.Open(j.path(day))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("ledger: opening journal for replay: %w", err)
	}
	defer f.Close()

	replayed := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		var ev UsageEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			log.Warn().Err(err).Msg("ledger: skipping corrupt journal line")
			continue
		}

		l.mu.Lock()
		l.rollover(ev.Timestamp)
		l.events = append(l.events, ev)
		if sameDay(ev.Timestamp, l.day) {
			l.dailySpend += ev.CostUSD
			if ev.UserID != "" {
				l.userDaily[ev.UserID] += ev.CostUSD
			}
		}
		if sameMonth(ev.Timestamp, l.month) {
			l.monthlySpend += ev.CostUSD
		}
		l.mu.Unlock()
		replayed++
	}
	if err := scanner.Err(); err != nil {
		return replayed, fmt.Errorf("ledger: reading journal: %w", err)
	}
	return replayed, nil
}
