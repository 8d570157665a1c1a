package dto

type UserStateResponse struct {
	UserId  int64  `json:"user_id"`
	State   string `json:"state"`
	Partner string `json:"partner"`
}

type StatsResponse struct {
	Users                  map[string]int64 `json:"users"`
	ActiveConversations    int              `json:"active_conversations"`
	ActiveSearchTimers     int              `json:"active_search_timers"`
	ActiveInactivityTimers int              `json:"active_inactivity_timers"`
}
