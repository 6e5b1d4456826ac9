// Package chat contains the unified chat message model, the Aggregator that
// merges messages from every platform into one ordered buffer, and the two
// platform connectors.
//
// Connectors share one capability (Connector): the YouTube connector polls
// liveChatMessages.list on a timer, the Twitch connector forwards IRC PRIVMSG
// events as they arrive. Attach wires a connector to an Aggregator; a
// Supervisor keeps at most one running connector per platform.
//
// Ordering: each platform's messages keep that platform's arrival order.
// There is no ordering across platforms beyond insertion order.
package chat
