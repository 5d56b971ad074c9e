// Package server implements the real-time core of roomchat: the WebSocket
// endpoint, per-connection sessions, the connection registry (Hub) that fans
// events out to rooms and users, and the small HTTP API around them.
//
// A connection to /ws/{room_id}?token=... is authenticated before it joins a
// room. Each session persists inbound messages through a MessageStore before
// broadcasting them, so every event a peer sees has been stored first.
package server
