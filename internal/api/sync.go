package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	tdsync "github.com/jake-wickstrom/tabletop-tracker/internal/sync"
)

// PullResponse is the JSON body for GET /sync.
type PullResponse struct {
	Changes   tdsync.ChangeSet `json:"changes"`
	Timestamp int64            `json:"timestamp"`
	HasMore   bool             `json:"has_more,omitempty"`
	NextPage  string           `json:"next_page,omitempty"`
}

// PushResponse is the JSON body for a fully applied POST /sync.
type PushResponse struct {
	OK bool `json:"ok"`
}

// parseCursor reads the cursor query value. Anything that is not a finite
// number counts as 0, which pulls everything.
func parseCursor(v string) int64 {
	if v == "" {
		return 0
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return int64(f)
}

// handleSyncPull handles GET /sync?cursor=<ms>[&page=<token>].
func (s *Server) handleSyncPull(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := getUserFromContext(ctx)
	log := logFor(ctx)

	q := r.URL.Query()
	cursor := parseCursor(q.Get("cursor"))

	var page *tdsync.PageToken
	if tok := q.Get("page"); tok != "" {
		p, err := tdsync.DecodePageToken(tok, cursor)
		if err != nil {
			log.Debug("bad page token", "err", err)
			writeError(w, http.StatusBadRequest, ErrMsgInvalidPageToken)
			return
		}
		page = p
	}

	db, err := s.dbPool.Get(user.UserID)
	if err != nil {
		log.Error("open dataset", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("begin tx", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}
	defer tx.Rollback()

	// Read the clock inside the transaction: dataset writes are serialized,
	// so every push committed after this point is stamped later.
	serverNow := s.now().UTC()
	res, err := tdsync.QueryChanges(ctx, tx, cursor, page, s.config.PullPageSize, serverNow)
	if err != nil {
		log.Error("query changes", "cursor", cursor, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrMsgPullFailed, Detail: err.Error()})
		return
	}
	if err := tx.Commit(); err != nil {
		log.Error("commit pull", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: ErrMsgPullFailed, Detail: err.Error()})
		return
	}

	timestamp := res.Timestamp
	changes := tdsync.BuildChangeSet(res.Raw, serverNow)
	resp := PullResponse{Changes: changes, Timestamp: timestamp, HasMore: res.HasMore}
	if res.HasMore {
		resp.NextPage = res.NextPage.Encode()
	} else if err := s.store.RecordPull(user.UserID, timestamp); err != nil {
		log.Warn("record pull", "err", err)
	}

	s.metrics.RecordPull(changes.Count())
	log.Debug("pull served", "cursor", cursor, "timestamp", timestamp, "rows", changes.Count(), "has_more", res.HasMore)
	writeJSON(w, http.StatusOK, resp)
}

// handleSyncPush handles POST /sync with body {changes, lastPulledAt?}.
func (s *Server) handleSyncPush(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	user := getUserFromContext(ctx)
	log := logFor(ctx)

	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		log.Debug("decode push body", "err", err)
		writeError(w, http.StatusBadRequest, ErrMsgInvalidPayload)
		return
	}
	changes, ok := body["changes"].(map[string]any)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrMsgInvalidPayload)
		return
	}

	db, err := s.dbPool.Get(user.UserID)
	if err != nil {
		log.Error("open dataset", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		log.Error("begin tx", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}
	defer tx.Rollback()

	serverNow := s.now().UTC()
	ops := tdsync.SplitPushChanges(changes, serverNow)
	submitted := countOps(ops)

	conflicts, err := tdsync.ApplyPush(ctx, tx, ops, serverNow)
	if err != nil {
		var pe *tdsync.PushError
		if errors.As(err, &pe) {
			log.Error("push failed", "kind", pe.Kind, "table", pe.Table, "err", pe.Err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: pe.Kind, Table: pe.Table, Detail: pe.Err.Error()})
			return
		}
		log.Error("push failed", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	if err := tx.Commit(); err != nil {
		log.Error("commit push", "err", err)
		writeError(w, http.StatusInternalServerError, ErrMsgInternal)
		return
	}

	s.metrics.RecordPush(submitted, conflicts.Len())
	if err := s.store.RecordPush(user.UserID, conflicts.Len()); err != nil {
		log.Warn("record push", "err", err)
	}

	if conflicts.Len() > 0 {
		log.Info("push conflicts", "rows", submitted, "conflicts", conflicts.Len())
		writeJSON(w, http.StatusConflict, ErrorResponse{Error: ErrMsgConflict, Conflicts: conflicts})
		return
	}

	log.Debug("push applied", "rows", submitted, "last_pulled_at", body["lastPulledAt"])
	writeJSON(w, http.StatusOK, PushResponse{OK: true})
}

func countOps(ops tdsync.PushOps) int {
	n := 0
	for _, rows := range ops.Upserts {
		n += len(rows)
	}
	for _, ups := range ops.Updates {
		n += len(ups)
	}
	for _, ids := range ops.Deletes {
		n += len(ids)
	}
	return n
}
