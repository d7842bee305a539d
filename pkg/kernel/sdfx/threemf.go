package sdfx

import (
	"github.com/deadsy/sdfx/sdf"
	v3 "github.com/deadsy/sdfx/vec/v3"
	"github.com/hpinc/go3mf"
)

func toPoint3D(a v3.Vec) go3mf.Point3D {
	return go3mf.Point3D{float32(a.X), float32(a.Y), float32(a.Z)}
}

// save3MF writes tris as a single-object 3MF model in millimetres.
// Vertices shared between triangles are written once.
func save3MF(path string, tris []*sdf.Triangle3) error {
	var model go3mf.Model
	var mesh go3mf.Mesh

	obj := &go3mf.Object{Mesh: &mesh}
	obj.ID = model.Resources.UnusedID()
	model.Resources.Objects = append(model.Resources.Objects, obj)
	model.Build.Items = append(model.Build.Items, &go3mf.Item{ObjectID: obj.ID})

	mb := go3mf.NewMeshBuilder(&mesh)
	for _, t := range tris {
		a := mb.AddVertex(toPoint3D(t[0]))
		b := mb.AddVertex(toPoint3D(t[1]))
		c := mb.AddVertex(toPoint3D(t[2]))
		mesh.Triangles.Triangle = append(mesh.Triangles.Triangle, go3mf.Triangle{V1: a, V2: b, V3: c})
	}

	w, err := go3mf.CreateWriter(path)
	if err != nil {
		return err
	}
	if err := w.Encode(&model); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}
