package handlers

// BadSubprotocolError closes sockets that connected without the lobby
// subprotocol; the standard close codes give the client no hint why.
// Credential problems never close the socket: a bad token downgrades
// the connection to anonymous instead.
const BadSubprotocolError = 3000
