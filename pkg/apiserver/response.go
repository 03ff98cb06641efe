package apiserver

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/pihound/pihound/pkg/model"
)

func writeError(w http.ResponseWriter, httpStatus int, err error) {
	if httpStatus >= 500 {
		// Unexpected errors stay server-side; the caller only sees the status.
		logrus.Errorf("request failed: %v", err)
		err = nil
	}

	o := model.ErrorResponse{
		Status: httpStatus,
	}
	if err != nil {
		o.Message = err.Error()
	}
	res, _ := json.Marshal(o)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpStatus)
	_, _ = w.Write(res)
}

func writeSuccess(w http.ResponseWriter, data interface{}) {
	res, err := json.Marshal(data)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(res)
}
