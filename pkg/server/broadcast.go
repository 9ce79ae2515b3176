package server

import "log/slog"

// deliver fans text out to the named recipients, skipping exclude and any
// recipient without a live session. A recipient whose sink is closed or full
// is treated as dead: it is scheduled for forced disconnect and never blocks
// or fails delivery to the others. Returns the number of successful sends.
func (s *Server) deliver(recipients []string, text, exclude string) int {
	sent := 0
	for _, name := range recipients {
		if name == exclude {
			continue
		}
		sess, ok := s.sessions.Lookup(name)
		if !ok {
			continue // not connected
		}
		if err := sess.Send(text); err != nil {
			slog.Warn("dropping unresponsive recipient", "user", name, "err", err)
			go s.sessions.ForceDisconnect(sess)
			continue
		}
		sent++
	}
	return sent
}

// broadcastAll sends text to every connected session except exclude.
// Pass an empty exclude to reach everyone.
func (s *Server) broadcastAll(text, exclude string) int {
	return s.deliver(s.sessions.Usernames(), text, exclude)
}
