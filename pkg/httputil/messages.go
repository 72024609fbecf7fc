package httputil

import (
	"net/http"

	"golang.org/x/text/language"

	"github.com/platinummonkey/tenantgate/pkg/apperr"
)

// supported lists the response languages; the first is the fallback
var supported = []language.Tag{
	language.English,
	language.Spanish,
	language.French,
	language.German,
}

var matcher = language.NewMatcher(supported)

var messages = map[string]map[language.Tag]string{
	apperr.CodeUnauthenticated: {
		language.English: "Authentication is required.",
		language.Spanish: "Se requiere autenticación.",
		language.French:  "Une authentification est requise.",
		language.German:  "Authentifizierung erforderlich.",
	},
	apperr.CodeForbidden: {
		language.English: "You do not have access to this resource.",
		language.Spanish: "No tiene acceso a este recurso.",
		language.French:  "Vous n'avez pas accès à cette ressource.",
		language.German:  "Sie haben keinen Zugriff auf diese Ressource.",
	},
	apperr.CodeInvalidTenant: {
		language.English: "A valid X-Tenant-ID header is required.",
		language.Spanish: "Se requiere un encabezado X-Tenant-ID válido.",
		language.French:  "Un en-tête X-Tenant-ID valide est requis.",
		language.German:  "Ein gültiger X-Tenant-ID-Header ist erforderlich.",
	},
	apperr.CodeTenantNotFound: {
		language.English: "The tenant does not exist.",
		language.Spanish: "El inquilino no existe.",
		language.French:  "Le locataire n'existe pas.",
		language.German:  "Der Mandant existiert nicht.",
	},
	apperr.CodeServiceUnavailable: {
		language.English: "The service is temporarily unavailable.",
		language.Spanish: "El servicio no está disponible temporalmente.",
		language.French:  "Le service est temporairement indisponible.",
		language.German:  "Der Dienst ist vorübergehend nicht verfügbar.",
	},
	apperr.CodeInternal: {
		language.English: "An internal error occurred.",
		language.Spanish: "Se produjo un error interno.",
		language.French:  "Une erreur interne s'est produite.",
		language.German:  "Ein interner Fehler ist aufgetreten.",
	},
	apperr.CodeBadRequest: {
		language.English: "The request is invalid.",
		language.Spanish: "La solicitud no es válida.",
		language.French:  "La requête est invalide.",
		language.German:  "Die Anfrage ist ungültig.",
	},
	apperr.CodeNotFound: {
		language.English: "The resource was not found.",
		language.Spanish: "No se encontró el recurso.",
		language.French:  "La ressource est introuvable.",
		language.German:  "Die Ressource wurde nicht gefunden.",
	},
	CodeRateLimited: {
		language.English: "Too many requests, slow down.",
		language.Spanish: "Demasiadas solicitudes, reduzca la velocidad.",
		language.French:  "Trop de requêtes, ralentissez.",
		language.German:  "Zu viele Anfragen, bitte langsamer.",
	},
	CodeMethodNotAllowed: {
		language.English: "The method is not allowed on this resource.",
		language.Spanish: "El método no está permitido en este recurso.",
		language.French:  "La méthode n'est pas autorisée sur cette ressource.",
		language.German:  "Die Methode ist für diese Ressource nicht erlaubt.",
	},
}

const (
	// CodeRateLimited is rendered with 429 responses
	CodeRateLimited = "RATE_LIMITED"
	// CodeMethodNotAllowed is rendered with 405 responses
	CodeMethodNotAllowed = "METHOD_NOT_ALLOWED"
)

// Language picks the response language from Accept-Language
func Language(r *http.Request) language.Tag {
	tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
	if err != nil || len(tags) == 0 {
		return language.English
	}
	_, idx, _ := matcher.Match(tags...)
	return supported[idx]
}

// Message returns the localized message for a response code
func Message(code string, tag language.Tag) string {
	byLang, ok := messages[code]
	if !ok {
		byLang = messages[apperr.CodeInternal]
	}
	if msg, ok := byLang[tag]; ok {
		return msg
	}
	return byLang[language.English]
}
