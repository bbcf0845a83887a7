package server

import "net/http"

func (s *Server) httpDelete(w http.ResponseWriter, r *http.Request, p string) error {
	ctx := r.Context()
	if _, err := s.tree.NodeForPath(ctx, p); err != nil {
		return err
	}
	ok, err := s.bus.Broadcast(ctx, EventBeforeUnbind, &PathEvent{Path: p})
	if err != nil || !ok {
		return err
	}
	if err := s.tree.Delete(ctx, p); err != nil {
		return err
	}
	writeStatus(w, http.StatusNoContent)
	return nil
}
