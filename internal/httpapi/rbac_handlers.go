package httpapi

import (
	"context"
	"net/http"
	"strings"

	"colegio.org/internal/apperr"
	"colegio.org/internal/auth"
)

func (a *API) rbacRoutes() {
	manage := func(h http.HandlerFunc) http.Handler { return a.gate(auth.PermRBACManage, h) }
	users := func(h http.HandlerFunc) http.Handler { return a.gate(auth.PermUsersManage, h) }
	a.mux.Handle("GET /rbac/roles", manage(a.handleListRoles))
	a.mux.Handle("POST /rbac/roles", manage(a.handleCreateRole))
	a.mux.Handle("GET /rbac/roles/{roleId}", manage(a.handleGetRole))
	a.mux.Handle("PATCH /rbac/roles/{roleId}", manage(a.handleUpdateRole))
	a.mux.Handle("DELETE /rbac/roles/{roleId}", manage(a.handleDeleteRole))
	a.mux.Handle("PUT /rbac/roles/{roleId}/permissions", manage(a.handleReplaceRolePermissions))
	a.mux.Handle("POST /rbac/roles/{roleId}/permissions", manage(a.handleAddRolePermissions))
	a.mux.Handle("GET /rbac/permissions", manage(a.handleListPermissions))
	a.mux.Handle("POST /rbac/permissions", manage(a.handleCreatePermission))
	a.mux.Handle("PATCH /rbac/permissions/{permissionId}", manage(a.handleUpdatePermission))
	a.mux.Handle("DELETE /rbac/permissions/{permissionId}", manage(a.handleDeletePermission))
	a.mux.Handle("PUT /rbac/users/{userId}/roles", manage(a.handleReplaceUserRoles))
	a.mux.Handle("POST /rbac/users/{userId}/roles", manage(a.handleAddUserRoles))
	a.mux.Handle("PUT /rbac/users/by-dni/{dni}/roles", manage(a.handleReplaceUserRolesByDNI))
	a.mux.Handle("POST /rbac/users/by-dni/{dni}/roles", manage(a.handleAddUserRolesByDNI))

	a.mux.Handle("GET /rbac/users", users(a.handleListUsers))
	a.mux.Handle("POST /rbac/users", users(a.handleCreateUser))
	a.mux.Handle("PUT /rbac/users/{userId}", users(a.handleUpdateUser))
	a.mux.Handle("DELETE /rbac/users/{userId}", users(a.handleDeleteUser))
	a.mux.Handle("PATCH /rbac/users/{userId}/status", users(a.handleSetUserStatus))
}

func (a *API) handleListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.svc.RBAC.ListRoles(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (a *API) handleCreateRole(w http.ResponseWriter, r *http.Request) {
	var req roleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	role, err := a.svc.RBAC.CreateRole(r.Context(), strings.TrimSpace(req.Name), req.Description)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, role)
}

func (a *API) handleGetRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	role, err := a.svc.RBAC.GetRole(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdateRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req updateRoleRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	role, err := a.svc.RBAC.UpdateRole(r.Context(), id, auth.RoleUpdate{Name: req.Name, Description: req.Description})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleDeleteRole(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.svc.RBAC.DeleteRole(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReplaceRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req rolePermissionsRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.svc.RBAC.ReplaceRolePermissions(r.Context(), id, req.Permissions); err != nil {
		a.handleError(w, r, err)
		return
	}
	role, err := a.svc.RBAC.GetRole(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := a.svc.RBAC.ListPermissions(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perms)
}

func (a *API) handleCreatePermission(w http.ResponseWriter, r *http.Request) {
	var req permissionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	perm, err := a.svc.RBAC.CreatePermission(r.Context(), strings.TrimSpace(req.Key), req.Description)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, perm)
}

func (a *API) handleDeletePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "permissionId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.svc.RBAC.DeletePermission(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleReplaceUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req userRolesRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.svc.RBAC.ReplaceUserRoles(r.Context(), id, req.Roles); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "roles": req.Roles})
}

func (a *API) handleSetUserStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req userStatusRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	user, err := a.svc.RBAC.SetUserStatus(r.Context(), id, *req.IsActive, strings.TrimSpace(req.Reason))
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleAddRolePermissions(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "roleId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req rolePermissionsRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.svc.RBAC.AddRolePermissions(r.Context(), id, req.Permissions); err != nil {
		a.handleError(w, r, err)
		return
	}
	role, err := a.svc.RBAC.GetRole(r.Context(), id)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, role)
}

func (a *API) handleUpdatePermission(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "permissionId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req updatePermissionRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	perm, err := a.svc.RBAC.UpdatePermission(r.Context(), id, auth.PermissionUpdate{Key: req.Key, Description: req.Description})
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, perm)
}

func (a *API) handleAddUserRoles(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req userRolesRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	if err := a.svc.RBAC.AddUserRoles(r.Context(), id, req.Roles); err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "roles": req.Roles})
}

func (a *API) handleReplaceUserRolesByDNI(w http.ResponseWriter, r *http.Request) {
	a.userRolesByDNI(w, r, a.svc.RBAC.ReplaceUserRolesByDNI)
}

func (a *API) handleAddUserRolesByDNI(w http.ResponseWriter, r *http.Request) {
	a.userRolesByDNI(w, r, a.svc.RBAC.AddUserRolesByDNI)
}

func (a *API) userRolesByDNI(w http.ResponseWriter, r *http.Request, apply func(context.Context, string, []string) (string, error)) {
	dni := r.PathValue("dni")
	if !dniPattern.MatchString(dni) {
		a.handleError(w, r, apperr.NotFound("user not found"))
		return
	}
	var req userRolesRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	userID, err := apply(r.Context(), dni, req.Roles)
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": userID, "roles": req.Roles})
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.svc.RBAC.ListUsers(r.Context())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (a *API) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	user, err := a.svc.RBAC.CreateUser(r.Context(), req.input())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (a *API) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	var req updateUserRequest
	if !a.decodeValid(w, r, &req) {
		return
	}
	user, err := a.svc.RBAC.UpdateUser(r.Context(), id, req.update())
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "userId")
	if err != nil {
		a.handleError(w, r, err)
		return
	}
	if err := a.svc.RBAC.DeleteUser(r.Context(), id); err != nil {
		a.handleError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
