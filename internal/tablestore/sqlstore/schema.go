package sqlstore

// Known collections and their columns. Field names arriving from callers are
// checked against this whitelist before they are interpolated as quoted
// identifiers, so no caller input ever reaches the SQL text unvalidated.
var schema = map[string]map[string]struct{}{
	"users":              cols("id", "email", "username", "password_hash", "salt", "creado", "actualizado", "ultimo_login", "config"),
	"sessions":           cols("token", "email", "firma", "creado", "expira"),
	"verification_codes": cols("id", "email", "codigo", "creado", "expira"),
	"memoria":            cols("id", "user_id", "categoria", "contenido", "importancia", "fecha"),
	"gustos":             cols("user_id", "gusto", "activo", "fecha"),
	"comandos":           cols("user_id", "comando", "accion", "usos", "fecha"),
	"chats_mensajes":     cols("id", "user_id", "contacto", "texto", "autor", "leido", "fecha"),
	"skills":             cols("id", "user_id", "trigger", "actions"),
}

func cols(names ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		m[n] = struct{}{}
	}
	return m
}
