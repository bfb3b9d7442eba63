package pgstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/phuslu/log"
	"nuha.dev/loctrack/internal/fix"
	"nuha.dev/loctrack/internal/store"
)

// Store persists samples in postgres, one row per accepted fix keyed
// by (reference, idx). The next index is read back from the table on
// every append so sequences continue after a restart.
type Store struct {
	dbp   *pgxpool.Pool
	log   log.Logger
	table string
}

func NewStore(db *pgxpool.Pool, table string) *Store {
	o := &Store{}
	o.dbp = db
	o.table = table
	o.log = log.DefaultLogger
	o.log.Context = log.NewContext(nil).Str("module", "pgstore").Value()
	return o
}

// InitSchema creates the sample table when it does not exist yet.
func (st *Store) InitSchema() error {
	sqlStmt := `CREATE TABLE IF NOT EXISTS ` + st.table + ` (
		reference TEXT NOT NULL,
		idx INTEGER NOT NULL,
		latitude DOUBLE PRECISION NOT NULL,
		longitude DOUBLE PRECISION NOT NULL,
		altitude DOUBLE PRECISION NOT NULL DEFAULT 0,
		accuracy REAL NOT NULL DEFAULT 0,
		speed REAL NOT NULL DEFAULT 0,
		heading REAL NOT NULL DEFAULT 0,
		altitude_accuracy REAL NOT NULL DEFAULT 0,
		timestamp BIGINT NOT NULL,
		PRIMARY KEY (reference, idx))`
	_, err := st.dbp.Exec(context.Background(), sqlStmt)
	return err
}

func (st *Store) Append(reference string, f fix.Fix) (int, error) {
	var idx int
	// max+1 and insert in one statement keeps concurrent appends from
	// reusing an index.
	sqlStmt := `INSERT INTO ` + st.table + ` (reference,idx,latitude,longitude,altitude,accuracy,speed,heading,altitude_accuracy,timestamp)
		SELECT $1, COALESCE(MAX(idx),0)+1, $2,$3,$4,$5,$6,$7,$8,$9 FROM ` + st.table + ` WHERE reference = $1
		RETURNING idx`
	err := st.dbp.QueryRow(context.Background(), sqlStmt,
		reference, f.Latitude, f.Longitude, f.Altitude, f.Accuracy, f.Speed, f.Heading, f.AltitudeAccuracy,
		f.Time.UnixNano()/int64(time.Millisecond)).Scan(&idx)
	if err != nil {
		st.log.Error().Err(err).Str("reference", reference).Msg("append failed")
		return 0, err
	}
	return idx, nil
}

func (st *Store) ListFor(reference string) ([]store.Sample, error) {
	sqlStmt := `SELECT reference,idx,latitude,longitude,altitude,accuracy,speed,heading,altitude_accuracy,timestamp
		FROM ` + st.table + ` WHERE reference = $1 ORDER BY idx ASC`
	rows, err := st.dbp.Query(context.Background(), sqlStmt, reference)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	samples := make([]store.Sample, 0)
	for rows.Next() {
		s := store.Sample{}
		err := rows.Scan(&s.Reference, &s.Index, &s.Latitude, &s.Longitude, &s.Altitude, &s.Accuracy, &s.Speed, &s.Heading, &s.AltitudeAccuracy, &s.Timestamp)
		if err != nil {
			return nil, err
		}
		samples = append(samples, s)
	}
	return samples, rows.Err()
}

func (st *Store) LastFor(reference string) (*store.Sample, error) {
	sqlStmt := `SELECT reference,idx,latitude,longitude,altitude,accuracy,speed,heading,altitude_accuracy,timestamp
		FROM ` + st.table + ` WHERE reference = $1 ORDER BY idx DESC LIMIT 1`
	s := store.Sample{}
	err := st.dbp.QueryRow(context.Background(), sqlStmt, reference).
		Scan(&s.Reference, &s.Index, &s.Latitude, &s.Longitude, &s.Altitude, &s.Accuracy, &s.Speed, &s.Heading, &s.AltitudeAccuracy, &s.Timestamp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

func (st *Store) TotalDistance(reference string) (float64, error) {
	samples, err := st.ListFor(reference)
	if err != nil {
		return 0, err
	}
	return store.TotalDistance(samples), nil
}

func (st *Store) Clear(reference string) error {
	var err error
	if reference == "" {
		_, err = st.dbp.Exec(context.Background(), `DELETE FROM `+st.table)
	} else {
		_, err = st.dbp.Exec(context.Background(), `DELETE FROM `+st.table+` WHERE reference = $1`, reference)
	}
	return err
}
