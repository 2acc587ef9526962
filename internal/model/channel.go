package model

// Channel names a notification destination.
type Channel string

const (
	ChannelDashboard Channel = "dashboard"
	ChannelChat      Channel = "chat"
	ChannelEmail     Channel = "email"
)

// Valid reports whether c is a known channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelDashboard, ChannelChat, ChannelEmail:
		return true
	}
	return false
}
