package pluginsvc

import (
	"net/http"

	xerrors "Woe-Notify/internal/errors"
)

const (
	CodePluginNotFound         xerrors.Code = "PLUGIN_NOT_FOUND"
	CodePluginConfigInvalid    xerrors.Code = "PLUGIN_CONFIG_INVALID"
	CodePluginRenderFailed     xerrors.Code = "PLUGIN_RENDER_FAILED"
	CodePluginPermissionDenied xerrors.Code = "PLUGIN_PERMISSION_DENIED"
)

func init() {
	xerrors.Register(CodePluginNotFound, xerrors.Attributes{
		Message: "plugin not found",
		Status:  http.StatusNotFound,
	})
	xerrors.Register(CodePluginConfigInvalid, xerrors.Attributes{
		Message: "plugin configuration invalid",
		Status:  http.StatusBadRequest,
	})
	xerrors.Register(CodePluginRenderFailed, xerrors.Attributes{
		Message: "plugin display render failed",
		Status:  http.StatusInternalServerError,
	})
	xerrors.Register(CodePluginPermissionDenied, xerrors.Attributes{
		Message: "plugin module not permitted",
		Status:  http.StatusForbidden,
	})
}
