// Package protocol implements the framing used by the conduit client to talk
// to a command-table server.
//
// The framing is the request half of the Redis protocol (RESP): every command
// is sent as an array of bulk strings.
//
// === General Syntax
//
// - lines are `\r\n` delimited
// - a frame starts with `*<count>\r\n` where `<count>` is the number of tokens
// - every token follows as `$<len>\r\n<token>\r\n`
// - `<len>` is the number of bytes of the UTF-8 encoded token, not the number
//   of characters
//
// For example the line `set name Alice` is sent as
//
//   ```
//     *3\r\n
//     $3\r\n
//     set\r\n
//     $4\r\n
//     name\r\n
//     $5\r\n
//     Alice\r\n
//   ```
//
// Frames are self-delimiting, a reader never needs anything but the bytes of
// the stream to find where one command ends and the next one starts.
//
// === Replies
//
// Replies from the server are not decoded. The client hands the raw bytes to
// the console as text.
//
package protocol
