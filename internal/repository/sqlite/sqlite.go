// Package sqlite implements internal/repository.StateRepository on top
// of SQLite, grounded on internal/learning/store.go's embedded-schema
// open/init pattern, generalized from task-execution history rows to a
// full exe/map/edge snapshot. Unlike the teacher's unwrapped inserts,
// Save wraps the entire replace in one transaction so a mid-write
// failure cannot leave a half-written snapshot on disk.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/prefetchd/internal/model"
	"github.com/harrison/prefetchd/internal/perr"
	"github.com/harrison/prefetchd/internal/repository"
	"github.com/harrison/prefetchd/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Repository is the SQLite-backed StateRepository.
type Repository struct {
	db *sql.DB
}

// Open opens (creating if needed) the SQLite database at path and
// ensures the schema exists. path may be ":memory:" for tests.
func Open(path string) (*Repository, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, perr.NewRepositoryError("open", fmt.Errorf("create state directory: %w", err))
			}
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, perr.NewRepositoryError("open", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, perr.NewRepositoryError("init schema", err)
	}

	return &Repository{db: db}, nil
}

// Close satisfies repository.StateRepository.
func (r *Repository) Close() error {
	return r.db.Close()
}

var _ repository.StateRepository = (*Repository)(nil)

// Save writes a full snapshot, replacing any prior snapshot, inside a
// single transaction.
func (r *Repository) Save(ctx context.Context, stores *store.Stores, meta repository.Meta) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return perr.NewRepositoryError("save", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		"DELETE FROM markov_edges",
		"DELETE FROM exe_maps",
		"DELETE FROM maps",
		"DELETE FROM exes",
		"DELETE FROM meta",
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return perr.NewRepositoryError("save: clear", err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO meta (id, model_time_ns, last_accounting_time) VALUES (0, ?, ?)`,
		int64(meta.ModelTime), meta.LastAccountingTime.UnixNano(),
	); err != nil {
		return perr.NewRepositoryError("save: meta", err)
	}

	exeStmt, err := tx.PrepareContext(ctx, `INSERT INTO exes (path, update_time, total_running_time) VALUES (?, ?, ?)`)
	if err != nil {
		return perr.NewRepositoryError("save: prepare exes", err)
	}
	defer exeStmt.Close()

	var saveErr error
	stores.IterExes(func(e *model.Exe) {
		if saveErr != nil {
			return
		}
		_, saveErr = exeStmt.ExecContext(ctx, string(e.Key), e.UpdateTime.UnixNano(), int64(e.TotalRunningTime))
	})
	if saveErr != nil {
		return perr.NewRepositoryError("save: exes", saveErr)
	}

	mapStmt, err := tx.PrepareContext(ctx, `INSERT INTO maps (path, offset, length, update_time) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return perr.NewRepositoryError("save: prepare maps", err)
	}
	defer mapStmt.Close()

	linkStmt, err := tx.PrepareContext(ctx, `INSERT INTO exe_maps (exe_path, map_path, map_offset, map_length) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return perr.NewRepositoryError("save: prepare exe_maps", err)
	}
	defer linkStmt.Close()

	seenMaps := make(map[model.MapId]bool)
	stores.IterExes(func(e *model.Exe) {
		if saveErr != nil {
			return
		}
		stores.IterMapsOf(e.Id, func(m *model.MapSegment) {
			if saveErr != nil {
				return
			}
			if !seenMaps[m.Id] {
				seenMaps[m.Id] = true
				if _, err := mapStmt.ExecContext(ctx, m.Key.Path, m.Key.Offset, m.Key.Length, m.UpdateTime.UnixNano()); err != nil {
					saveErr = err
					return
				}
			}
			if _, err := linkStmt.ExecContext(ctx, string(e.Key), m.Key.Path, m.Key.Offset, m.Key.Length); err != nil {
				saveErr = err
			}
		})
	})
	if saveErr != nil {
		return perr.NewRepositoryError("save: maps/exe_maps", saveErr)
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO markov_edges (
		exe_a_path, exe_b_path,
		time_to_leave_0, time_to_leave_1, time_to_leave_2, time_to_leave_3,
		transition_prob_00, transition_prob_01, transition_prob_02, transition_prob_03,
		transition_prob_10, transition_prob_11, transition_prob_12, transition_prob_13,
		transition_prob_20, transition_prob_21, transition_prob_22, transition_prob_23,
		transition_prob_30, transition_prob_31, transition_prob_32, transition_prob_33,
		both_running_time, update_time
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return perr.NewRepositoryError("save: prepare markov_edges", err)
	}
	defer edgeStmt.Close()

	for _, key := range stores.EdgeKeys() {
		edge, ok := stores.GetEdge(key.A, key.B)
		if !ok {
			continue
		}
		exeA, okA := stores.Exe(key.A)
		exeB, okB := stores.Exe(key.B)
		if !okA || !okB {
			continue
		}

		// markov_edges.exe_a_path/exe_b_path are ordered lexicographically
		// (schema.sql's CHECK), but TimeToLeave/TransitionProb are indexed
		// by StateOnlyA/StateOnlyB relative to key.A/key.B, the ExeId
		// canonical order. When the two orders disagree, permute the edge
		// onto the path order before writing it so the row stays internally
		// consistent with its own column layout.
		pathA, pathB := string(exeA.Key), string(exeB.Key)
		writeEdge := edge
		if pathA > pathB {
			pathA, pathB = pathB, pathA
			writeEdge = swapEdgeStates(edge)
		}

		args := []any{
			pathA, pathB,
			float64(float32(writeEdge.TimeToLeave[0])), float64(float32(writeEdge.TimeToLeave[1])),
			float64(float32(writeEdge.TimeToLeave[2])), float64(float32(writeEdge.TimeToLeave[3])),
		}
		for i := 0; i < model.NumStates; i++ {
			for j := 0; j < model.NumStates; j++ {
				args = append(args, float64(float32(writeEdge.TransitionProb[i][j])))
			}
		}
		args = append(args, int64(writeEdge.BothRunningTime), writeEdge.LastUpdateTime.UnixNano())
		if _, err := edgeStmt.ExecContext(ctx, args...); err != nil {
			return perr.NewRepositoryError("save: markov_edges", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return perr.NewRepositoryError("save: commit", err)
	}
	return nil
}

// Load reconstructs a fresh Stores from the most recent snapshot. An
// empty database (first run) yields an empty Stores and zero Meta.
func (r *Repository) Load(ctx context.Context) (*store.Stores, repository.Meta, error) {
	s := store.New()
	var meta repository.Meta

	var modelTimeNs, lastAccountingNs sql.NullInt64
	row := r.db.QueryRowContext(ctx, `SELECT model_time_ns, last_accounting_time FROM meta WHERE id = 0`)
	switch err := row.Scan(&modelTimeNs, &lastAccountingNs); err {
	case nil:
		s.SetModelTime(model.ModelTime(time.Duration(modelTimeNs.Int64)))
		meta.ModelTime = time.Duration(modelTimeNs.Int64)
		meta.LastAccountingTime = time.Unix(0, lastAccountingNs.Int64)
	case sql.ErrNoRows:
		// first run: leave s and meta at zero values.
	default:
		return nil, repository.Meta{}, perr.NewRepositoryError("load: meta", err)
	}

	exeRows, err := r.db.QueryContext(ctx, `SELECT path, update_time, total_running_time FROM exes`)
	if err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: exes", err)
	}
	defer exeRows.Close()

	for exeRows.Next() {
		var path string
		var updateNs, runningNs int64
		if err := exeRows.Scan(&path, &updateNs, &runningNs); err != nil {
			return nil, repository.Meta{}, perr.NewRepositoryError("load: scan exe", err)
		}
		t := time.Unix(0, updateNs)
		id := s.InternExe(model.ExeKey(path), t)
		e, _ := s.Exe(id)
		e.TotalRunningTime = time.Duration(runningNs)
	}
	if err := exeRows.Err(); err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: exes", err)
	}

	mapRows, err := r.db.QueryContext(ctx, `SELECT path, offset, length, update_time FROM maps`)
	if err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: maps", err)
	}
	defer mapRows.Close()

	for mapRows.Next() {
		var path string
		var offset, length, updateNs int64
		if err := mapRows.Scan(&path, &offset, &length, &updateNs); err != nil {
			return nil, repository.Meta{}, perr.NewRepositoryError("load: scan map", err)
		}
		s.InternMap(model.MapKey{Path: path, Offset: offset, Length: length}, time.Unix(0, updateNs))
	}
	if err := mapRows.Err(); err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: maps", err)
	}

	linkRows, err := r.db.QueryContext(ctx, `SELECT exe_path, map_path, map_offset, map_length FROM exe_maps`)
	if err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: exe_maps", err)
	}
	defer linkRows.Close()

	for linkRows.Next() {
		var exePath, mapPath string
		var offset, length int64
		if err := linkRows.Scan(&exePath, &mapPath, &offset, &length); err != nil {
			return nil, repository.Meta{}, perr.NewRepositoryError("load: scan exe_map", err)
		}
		exeId, ok := s.ExeIdFor(model.ExeKey(exePath))
		if !ok {
			continue
		}
		mapKey := model.MapKey{Path: mapPath, Offset: offset, Length: length}
		mapId, ok := s.MapIdFor(mapKey)
		if !ok {
			continue
		}
		s.Link(exeId, mapId)
	}
	if err := linkRows.Err(); err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: exe_maps", err)
	}

	edgeRows, err := r.db.QueryContext(ctx, `SELECT
		exe_a_path, exe_b_path,
		time_to_leave_0, time_to_leave_1, time_to_leave_2, time_to_leave_3,
		transition_prob_00, transition_prob_01, transition_prob_02, transition_prob_03,
		transition_prob_10, transition_prob_11, transition_prob_12, transition_prob_13,
		transition_prob_20, transition_prob_21, transition_prob_22, transition_prob_23,
		transition_prob_30, transition_prob_31, transition_prob_32, transition_prob_33,
		both_running_time, update_time
	FROM markov_edges`)
	if err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: markov_edges", err)
	}
	defer edgeRows.Close()

	for edgeRows.Next() {
		var exeAPath, exeBPath string
		var ttl [4]float64
		var tp [16]float64
		var bothRunningNs, updateNs int64
		dest := []any{&exeAPath, &exeBPath, &ttl[0], &ttl[1], &ttl[2], &ttl[3]}
		for i := range tp {
			dest = append(dest, &tp[i])
		}
		dest = append(dest, &bothRunningNs, &updateNs)
		if err := edgeRows.Scan(dest...); err != nil {
			return nil, repository.Meta{}, perr.NewRepositoryError("load: scan edge", err)
		}

		aId, okA := s.ExeIdFor(model.ExeKey(exeAPath))
		bId, okB := s.ExeIdFor(model.ExeKey(exeBPath))
		if !okA || !okB {
			continue
		}

		edge := &model.MarkovEdge{LastUpdateTime: time.Unix(0, updateNs), BothRunningTime: time.Duration(bothRunningNs)}
		for i := 0; i < model.NumStates; i++ {
			edge.TimeToLeave[i] = float32(ttl[i])
			for j := 0; j < model.NumStates; j++ {
				edge.TransitionProb[i][j] = float32(tp[i*model.NumStates+j])
			}
		}

		// exe_a_path/exe_b_path are lexicographic, not ExeId order, so the
		// row's StateOnlyA may actually belong to the higher ExeId. Undo
		// that before handing the edge to UpsertEdge, which stores it
		// verbatim under the ExeId-canonical key.
		if aId > bId {
			edge = swapEdgeStates(edge)
		}
		s.UpsertEdge(aId, bId, edge)
	}
	if err := edgeRows.Err(); err != nil {
		return nil, repository.Meta{}, perr.NewRepositoryError("load: markov_edges", err)
	}

	return s, meta, nil
}

// swapEdgeStates returns a copy of edge with StateOnlyA and StateOnlyB
// exchanged throughout TimeToLeave and TransitionProb. StateNeither and
// StateBoth are symmetric and untouched. Used to reconcile the ExeId
// canonical A/B order that MarkovEdge's states are defined against with
// the lexicographic path order markov_edges rows are keyed on; applying
// it twice is the identity.
func swapEdgeStates(edge *model.MarkovEdge) *model.MarkovEdge {
	sigma := [model.NumStates]int{model.StateNeither: 0, model.StateOnlyA: 2, model.StateOnlyB: 1, model.StateBoth: 3}
	out := &model.MarkovEdge{LastUpdateTime: edge.LastUpdateTime, BothRunningTime: edge.BothRunningTime}
	for i := 0; i < model.NumStates; i++ {
		out.TimeToLeave[i] = edge.TimeToLeave[sigma[i]]
		for j := 0; j < model.NumStates; j++ {
			out.TransitionProb[i][j] = edge.TransitionProb[sigma[i]][sigma[j]]
		}
	}
	return out
}
