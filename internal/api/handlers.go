package api

import (
	"fmt"
	"net/http"
)

// HomeMessage is the greeting returned from the root path.
const HomeMessage = "Django app is running!"

// HandleHealth reports service health. It ignores method and body.
func HandleHealth() http.HandlerFunc {
	resp := map[string]string{"status": "healthy"}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleHome returns the static greeting.
func HandleHome() http.HandlerFunc {
	resp := map[string]string{"message": HomeMessage}
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, resp)
	}
}

// HandleNotFound answers every path that no route claims.
func HandleNotFound() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteProblem(w, http.StatusNotFound, fmt.Sprintf("No route matches %s.", r.URL.Path))
	}
}
