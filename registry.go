// This file contains the connection registry which binds connection ids to
// user ids. A user may hold several simultaneous connections; the user entry
// and its cached profile exist exactly while the connection set is non-empty.
// All methods are invoked under the coordinator mutex.
package chatwire

type registry struct {
	conns    map[string]string
	users    map[string]stringSet
	profiles map[string]Profile
}

func newRegistry() *registry {
	return &registry{
		conns:    make(map[string]string),
		users:    make(map[string]stringSet),
		profiles: make(map[string]Profile),
	}
}

// bind attaches a connection to a user. Rebinding a live connection to a new
// user detaches the prior mapping first. Returns the detached user id (empty
// if none), whether the detach took that user offline, and whether the bind
// took the new user online.
func (r *registry) bind(connectionID, userID string) (detached string, detachedOffline bool, wentOnline bool) {
	if prev, ok := r.conns[connectionID]; ok {
		if prev == userID {
			return "", false, false
		}
		detached = prev
		detachedOffline = r.dropConnection(prev, connectionID)
	}

	r.conns[connectionID] = userID
	set, ok := r.users[userID]
	if !ok {
		set = newStringSet()
		r.users[userID] = set
		wentOnline = true
	}
	set.add(connectionID)
	return detached, detachedOffline, wentOnline
}

// unregister removes a connection mapping. Returns the affected user id and
// whether this was the user's last connection. Unknown connections are no-ops.
func (r *registry) unregister(connectionID string) (userID string, wentOffline bool, ok bool) {
	userID, ok = r.conns[connectionID]
	if !ok {
		return "", false, false
	}
	delete(r.conns, connectionID)
	wentOffline = r.dropConnection(userID, connectionID)
	return userID, wentOffline, true
}

func (r *registry) dropConnection(userID, connectionID string) bool {
	set, ok := r.users[userID]
	if !ok {
		return false
	}
	set.remove(connectionID)
	if len(set) > 0 {
		return false
	}
	delete(r.users, userID)
	delete(r.profiles, userID)
	return true
}

func (r *registry) setProfile(userID string, profile Profile) {
	r.profiles[userID] = profile
}

func (r *registry) profile(userID string) (Profile, bool) {
	p, ok := r.profiles[userID]
	return p, ok
}

func (r *registry) userOf(connectionID string) (string, bool) {
	userID, ok := r.conns[connectionID]
	return userID, ok
}

func (r *registry) isOnline(userID string) bool {
	set, ok := r.users[userID]
	return ok && len(set) > 0
}

func (r *registry) onlineUsers() []string {
	result := make([]string, 0, len(r.users))
	for userID := range r.users {
		result = append(result, userID)
	}
	return result
}

func (r *registry) connections() []string {
	result := make([]string, 0, len(r.conns))
	for connectionID := range r.conns {
		result = append(result, connectionID)
	}
	return result
}

func (r *registry) connectionsOf(userID string) []string {
	set, ok := r.users[userID]
	if !ok {
		return nil
	}
	return set.values()
}
