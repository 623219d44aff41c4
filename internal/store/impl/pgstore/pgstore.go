package pgstore

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/phuslu/log"
)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...interface{}) (pgconn.CommandTag, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

var columns = []string{"sender", "latitude", "longitude", "gps_time", "server_time"}

type Store struct {
	config *StoreConfig
	wlock  *sync.Mutex
	wbuf   buffer
	flushq chan buffer
	db     DB
	log    log.Logger
	table  string
}

type StoreConfig struct {
	BufSize     int
	TickerDur   time.Duration
	MaxAgeFlush time.Duration
}

type buffer struct {
	seq uint64
	t1  time.Time
	t2  time.Time
	buf []record
}

func new_buffer(seq uint64, len int) buffer {
	return buffer{seq: seq, buf: make([]record, 0, len)}
}

type record struct {
	sender string
	lat    float64
	lon    float64
	gpst   time.Time
	srvt   time.Time
}

func NewStore(db DB, table string, config *StoreConfig) *Store {
	o := &Store{}
	cfg := StoreConfig{}
	if config != nil {
		cfg = *config
	}
	o.config = &cfg
	if o.config.BufSize <= 0 {
		o.config.BufSize = 100
	}
	if o.config.TickerDur <= 0 {
		o.config.TickerDur = time.Second
	}
	if o.config.MaxAgeFlush <= 0 {
		o.config.MaxAgeFlush = 5 * time.Second
	}
	o.table = table
	o.db = db
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	o.wbuf = new_buffer(0, o.config.BufSize)
	o.wlock = &sync.Mutex{}
	o.flushq = make(chan buffer, 4)
	return o
}

// EnsureTable creates the readings table when it does not exist.
func (st *Store) EnsureTable(ctx context.Context) error {
	_, err := st.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+pgx.Identifier{st.table}.Sanitize()+` (
		id bigserial PRIMARY KEY,
		sender text NOT NULL,
		latitude double precision NOT NULL,
		longitude double precision NOT NULL,
		gps_time timestamptz NOT NULL,
		server_time timestamptz NOT NULL
	)`)
	return err
}

// Run flushes full buffers and, on every tick, buffers older than
// MaxAgeFlush. Whatever is pending is flushed when ctx ends.
func (st *Store) Run(ctx context.Context) {
	st.log.Info().Msg("starting flusher task")
	ticker := time.NewTicker(st.config.TickerDur)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 {
				st.flush()
			}
			st.wlock.Unlock()
			st.drain()
			return
		case t := <-ticker.C:
			st.wlock.Lock()
			if len(st.wbuf.buf) != 0 && t.Sub(st.wbuf.t1) > st.config.MaxAgeFlush {
				st.flush()
			}
			st.wlock.Unlock()
		case buf := <-st.flushq:
			st.write(buf)
		}
	}
}

func (st *Store) drain() {
	for {
		select {
		case buf := <-st.flushq:
			st.write(buf)
		default:
			return
		}
	}
}

func (st *Store) Put(sender string, lat float64, lon float64, gpst time.Time, srvt time.Time) {
	rec := record{sender: sender, lat: lat, lon: lon, gpst: gpst, srvt: srvt}
	st.wlock.Lock()
	if len(st.wbuf.buf) == 0 {
		st.wbuf.t1 = time.Now().UTC()
	}
	st.wbuf.buf = append(st.wbuf.buf, rec)
	if len(st.wbuf.buf) == st.config.BufSize {
		st.flush()
	}
	st.wlock.Unlock()
}

// flush hands the write buffer to the flusher. Caller holds wlock. When the
// flusher is behind, the buffer is dropped rather than blocking Put.
func (st *Store) flush() {
	next := st.wbuf.seq + 1
	st.wbuf.t2 = time.Now().UTC()
	select {
	case st.flushq <- st.wbuf:
	default:
		st.log.Warn().Uint64("seq", st.wbuf.seq).Int("length", len(st.wbuf.buf)).Msg("flusher behind, dropping buffer")
	}
	st.wbuf = new_buffer(next, st.config.BufSize)
}

func (st *Store) write(buf buffer) {
	t1 := time.Now()
	_, err := st.db.CopyFrom(context.Background(),
		pgx.Identifier{st.table},
		columns,
		pgx.CopyFromSlice(len(buf.buf), func(i int) ([]interface{}, error) {
			d := buf.buf[i]
			return []interface{}{d.sender, d.lat, d.lon, d.gpst, d.srvt}, nil
		}))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
			st.log.Error().Err(err).Str("table", st.table).Msg("flush error, table missing")
			return
		}
		st.log.Error().Err(err).Msg("flush error")
	} else {
		st.log.Debug().Str("action", "flush").Uint64("seq", buf.seq).Int("length", len(buf.buf)).Dur("time_taken", time.Since(t1)).Msg("flush successfull")
	}
}
