package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/MJE43/race-pf-replay-go/internal/store"
)

const exportPageSize = 2000

// handleExportRun streams every hit of a scan run as CSV, ordered by index.
func (s *Server) handleExportRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.db.GetRun(id); err != nil {
		s.errorHandler.HandleError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="scan_%s.csv"`, id))
	w.Header().Set("X-Engine-Version", EngineVersion)

	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"index", "seed", "place", "ticks", "delta_index"})

	// headers are already sent, so a failure can only be logged
	if err := writeHitRows(cw, s.db, id); err != nil {
		s.logger.Printf("export_failed run_id=%s err=%v", id, err)
	}
	cw.Flush()
}

func writeHitRows(cw *csv.Writer, db store.DB, runID string) error {
	for page := 1; ; page++ {
		hits, err := db.GetRunHits(runID, page, exportPageSize)
		if err != nil {
			return err
		}
		for _, h := range hits.Hits {
			delta := ""
			if h.DeltaIndex != nil {
				delta = strconv.FormatUint(*h.DeltaIndex, 10)
			}
			row := []string{
				strconv.FormatUint(h.Index, 10),
				h.Seed,
				strconv.Itoa(h.Place),
				strconv.Itoa(h.Ticks),
				delta,
			}
			if err := cw.Write(row); err != nil {
				return err
			}
		}
		if page >= hits.TotalPages {
			return cw.Error()
		}
	}
}
