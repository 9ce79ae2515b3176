package server

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/mhaas-dev/chatline/pkg/model"
	"github.com/mhaas-dev/chatline/pkg/rbac"
)

// dispatch routes one sanitized non-empty line from a serving session.
// Lines starting with '/' are commands; everything else is broadcast chat.
// Returns true when the session asked to quit.
func (s *Server) dispatch(sess *Session, line string) (quit bool) {
	if strings.HasPrefix(line, "/") {
		return s.dispatchCommand(sess, line)
	}
	s.handleChat(sess, line)
	return false
}

// handleChat fans a plain chat line out to every other connected session.
// Muted senders get a notice and nothing is delivered.
func (s *Server) handleChat(sess *Session, text string) {
	sender := sess.Username()
	if s.moderation.IsMuted(sender) {
		_ = sess.Send("You are muted and cannot send messages right now.")
		return
	}
	s.broadcastAll(fmt.Sprintf("%s: %s", sender, text), sender)
	s.metrics.MessagesBroadcast.Add(1)
}

// dispatchCommand executes one slash command. Command errors are recoverable:
// the session gets a reply and keeps serving.
func (s *Server) dispatchCommand(sess *Session, line string) (quit bool) {
	verb, rest := splitVerb(line)
	switch verb {
	case "/msg", "/pm":
		args := splitArgs(rest, 2)
		if len(args) < 2 {
			_ = sess.Send("Usage: /msg <recipient> <message>")
			return false
		}
		s.privateMessage(sess, args[0], args[1])

	case "/list_users":
		_ = sess.Send("Online users: " + strings.Join(s.sessions.Usernames(), ", "))

	case "/create_room":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /create_room <room_name>")
			return false
		}
		s.createRoom(sess, args[0])

	case "/delete_room":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /delete_room <room_name>")
			return false
		}
		s.deleteRoom(sess, args[0])

	case "/list_rooms":
		_ = sess.Send("Available rooms: " + strings.Join(s.rooms.List(), ", "))

	case "/join_room":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /join_room <room_name>")
			return false
		}
		s.joinRoom(sess, args[0])

	case "/leave_room":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /leave_room <room_name>")
			return false
		}
		s.leaveRoom(sess, args[0])

	case "/broadcast_room":
		args := splitArgs(rest, 2)
		if len(args) < 2 {
			_ = sess.Send("Usage: /broadcast_room <room_name> <message>")
			return false
		}
		s.broadcastRoom(sess, args[0], args[1])

	case "/kick":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /kick <username>")
			return false
		}
		s.kickUser(sess, args[0])

	case "/ban":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /ban <username>")
			return false
		}
		s.banUser(sess, args[0], 0)

	case "/temp_ban":
		args := splitArgs(rest, 2)
		minutes, ok := parseMinutes(args, 2)
		if !ok {
			_ = sess.Send("Usage: /temp_ban <username> <minutes>")
			return false
		}
		s.banUser(sess, args[0], time.Duration(minutes)*time.Minute)

	case "/mute":
		args := splitArgs(rest, 2)
		minutes, ok := parseMinutes(args, 2)
		if !ok {
			_ = sess.Send("Usage: /mute <username> <minutes>")
			return false
		}
		s.muteUser(sess, args[0], time.Duration(minutes)*time.Minute)

	case "/unmute":
		args := splitArgs(rest, 1)
		if len(args) < 1 {
			_ = sess.Send("Usage: /unmute <username>")
			return false
		}
		s.unmuteUser(sess, args[0])

	case "/quit":
		return true

	default:
		_ = sess.Send("Unknown command.")
	}
	return false
}

func (s *Server) privateMessage(sess *Session, recipient, text string) {
	target, ok := s.sessions.Lookup(recipient)
	if !ok {
		_ = sess.Send("User not found.")
		return
	}
	if err := target.Send(fmt.Sprintf("Private message from %s: %s", sess.Username(), text)); err != nil {
		go s.sessions.ForceDisconnect(target)
		_ = sess.Send("User not found.")
		return
	}
	s.metrics.PrivateMessages.Add(1)
	slog.Info("private message", "from", sess.Username(), "to", recipient)
}

func (s *Server) createRoom(sess *Session, name string) {
	if name == "" || len(name) > MaxRoomNameLength {
		_ = sess.Send(fmt.Sprintf("Room name must be 1-%d characters.", MaxRoomNameLength))
		return
	}
	if err := s.rooms.Create(name); err != nil {
		_ = sess.Send(fmt.Sprintf("Room '%s' already exists.", name))
		return
	}
	// Creator becomes the first member.
	_ = s.rooms.Join(name, sess.Username())
	_ = sess.Send(fmt.Sprintf("Room '%s' created successfully.", name))
	s.metrics.RoomsCreated.Add(1)
	slog.Info("room created", "room", name, "by", sess.Username())
}

func (s *Server) deleteRoom(sess *Session, name string) {
	if _, err := s.rooms.Delete(name); err != nil {
		_ = sess.Send(fmt.Sprintf("Room '%s' does not exist.", name))
		return
	}
	s.broadcastAll(fmt.Sprintf("Room '%s' has been deleted.", name), "")
	_ = sess.Send(fmt.Sprintf("Room '%s' deleted successfully.", name))
	s.metrics.RoomsDeleted.Add(1)
	slog.Info("room deleted", "room", name, "by", sess.Username())
}

func (s *Server) joinRoom(sess *Session, name string) {
	if err := s.rooms.Join(name, sess.Username()); err != nil {
		_ = sess.Send(fmt.Sprintf("Room '%s' does not exist.", name))
		return
	}
	_ = sess.Send(fmt.Sprintf("Joined room '%s'.", name))
	s.deliver(s.rooms.Members(name),
		fmt.Sprintf("%s joined room '%s'.", sess.Username(), name), sess.Username())
}

func (s *Server) leaveRoom(sess *Session, name string) {
	if err := s.rooms.Leave(name, sess.Username()); err != nil {
		_ = sess.Send(fmt.Sprintf("Room '%s' does not exist.", name))
		return
	}
	_ = sess.Send(fmt.Sprintf("Left room '%s'.", name))
}

// broadcastRoom delivers text to a room's live members. The sender must be a
// member; non-members get a reply and nothing is delivered.
func (s *Server) broadcastRoom(sess *Session, name, text string) {
	if !s.rooms.Exists(name) {
		_ = sess.Send(fmt.Sprintf("Room '%s' does not exist.", name))
		return
	}
	sender := sess.Username()
	if !s.rooms.IsMember(name, sender) {
		_ = sess.Send(fmt.Sprintf("You are not a member of room '%s'.", name))
		return
	}
	if s.moderation.IsMuted(sender) {
		_ = sess.Send("You are muted and cannot send messages right now.")
		return
	}
	s.deliver(s.rooms.Members(name), fmt.Sprintf("[%s] %s: %s", name, sender, text), sender)
	s.metrics.RoomBroadcasts.Add(1)
}

// requirePermission gates an admin verb. On failure the session gets the
// denial text and false is returned.
func (s *Server) requirePermission(sess *Session, perm model.Permission) bool {
	if errMsg := rbac.RequirePermission(sess.Identity.Role, perm); errMsg != "" {
		_ = sess.Send(errMsg)
		return false
	}
	return true
}

func (s *Server) kickUser(sess *Session, target string) {
	if !s.requirePermission(sess, model.PermKickUser) {
		return
	}
	victim, ok := s.sessions.Lookup(target)
	if !ok {
		_ = sess.Send("User not found.")
		return
	}
	_ = victim.SendNow("You have been kicked from the server.")
	s.sessions.ForceDisconnect(victim)
	_ = sess.Send(fmt.Sprintf("User '%s' has been kicked.", target))
	s.metrics.KickCount.Add(1)
	slog.Info("user kicked", "user", target, "by", sess.Username())
}

// banUser records a ban and disconnects the target if online. A zero
// duration is a permanent ban.
func (s *Server) banUser(sess *Session, target string, d time.Duration) {
	if !s.requirePermission(sess, model.PermBanUser) {
		return
	}
	if err := s.moderation.Ban(target, "", sess.Username(), d); err != nil {
		slog.Error("ban failed", "user", target, "err", err)
		_ = sess.Send("Ban failed. Please try again.")
		return
	}
	if victim, ok := s.sessions.Lookup(target); ok {
		_ = victim.SendNow("You are banned from this server.")
		s.sessions.ForceDisconnect(victim)
	}
	if d > 0 {
		_ = sess.Send(fmt.Sprintf("User '%s' has been banned for %d minutes.", target, int(d.Minutes())))
	} else {
		_ = sess.Send(fmt.Sprintf("User '%s' has been banned.", target))
	}
	s.metrics.BanCount.Add(1)
	slog.Info("user banned", "user", target, "by", sess.Username(), "duration", d)
}

func (s *Server) muteUser(sess *Session, target string, d time.Duration) {
	if !s.requirePermission(sess, model.PermMuteUser) {
		return
	}
	if err := s.moderation.Mute(target, sess.Username(), d); err != nil {
		slog.Error("mute failed", "user", target, "err", err)
		_ = sess.Send("Mute failed. Please try again.")
		return
	}
	_ = sess.Send(fmt.Sprintf("User '%s' has been muted for %d minutes.", target, int(d.Minutes())))
	if victim, ok := s.sessions.Lookup(target); ok {
		_ = victim.Send(fmt.Sprintf("You have been muted for %d minutes.", int(d.Minutes())))
	}
	s.metrics.MuteCount.Add(1)
	slog.Info("user muted", "user", target, "by", sess.Username(), "duration", d)
}

func (s *Server) unmuteUser(sess *Session, target string) {
	if !s.requirePermission(sess, model.PermMuteUser) {
		return
	}
	if err := s.moderation.Unmute(target); err != nil {
		slog.Error("unmute failed", "user", target, "err", err)
		_ = sess.Send("Unmute failed. Please try again.")
		return
	}
	_ = sess.Send(fmt.Sprintf("User '%s' has been unmuted.", target))
	if victim, ok := s.sessions.Lookup(target); ok {
		_ = victim.Send("You have been unmuted.")
	}
	slog.Info("user unmuted", "user", target, "by", sess.Username())
}

// splitVerb separates the command verb from its argument tail.
func splitVerb(line string) (verb, rest string) {
	if idx := strings.IndexAny(line, " \t"); idx >= 0 {
		return line[:idx], strings.TrimLeft(line[idx:], " \t")
	}
	return line, ""
}

// splitArgs splits a command tail into at most n fields. The last field
// absorbs the remainder verbatim so message bodies keep internal spaces.
func splitArgs(s string, n int) []string {
	var args []string
	s = strings.TrimSpace(s)
	for i := 0; i < n-1 && s != ""; i++ {
		idx := strings.IndexAny(s, " \t")
		if idx < 0 {
			break
		}
		args = append(args, s[:idx])
		s = strings.TrimLeft(s[idx:], " \t")
	}
	if s != "" {
		args = append(args, s)
	}
	return args
}

// parseMinutes validates an <username> <minutes> argument pair, returning
// the positive minute count.
func parseMinutes(args []string, want int) (int, bool) {
	if len(args) < want {
		return 0, false
	}
	minutes, err := strconv.Atoi(args[want-1])
	if err != nil || minutes <= 0 {
		return 0, false
	}
	return minutes, true
}
