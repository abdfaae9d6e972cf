package model

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"gonum.org/v1/gonum/mat"

	"distilsum/optimizations"
)

// Gob-friendly flattened forms. Adam moments are persisted alongside the
// weights so a resumed run continues with warm optimizer state.

type matData struct {
	R, C int
	Data []float64
}

func packMat(m *mat.Dense) matData {
	if m == nil {
		return matData{}
	}
	r, c := m.Dims()
	raw := mat.DenseCopyOf(m).RawMatrix()
	return matData{R: r, C: c, Data: append([]float64(nil), raw.Data...)}
}

func unpackMat(d matData) *mat.Dense {
	if d.R == 0 || d.C == 0 {
		return nil
	}
	return mat.NewDense(d.R, d.C, d.Data)
}

type attnData struct {
	Wq, Wk, Wv                         []matData
	Wo                                 matData
	MWq, VWq, MWk, VWk, MWv, VWv       []matData
	MWo, VWo                           matData
	T                                  int
}

type mlpData struct {
	HiddenW, HiddenB, OutputW, OutputB matData
	MHiddenW, VHiddenW, MHiddenB, VHiddenB matData
	MOutputW, VOutputW, MOutputB, VOutputB matData
	T                                      int
}

type lnData struct {
	Gamma, Beta                    matData
	MGamma, VGamma, MBeta, VBeta   matData
	T                              int
}

type encLayerData struct {
	Attn     attnData
	Mlp      mlpData
	Ln1, Ln2 lnData
}

type decLayerData struct {
	SelfAttn, CrossAttn attnData
	Mlp                 mlpData
	Ln1, Ln2, Ln3       lnData
}

type modelData struct {
	Cfg                Config
	Shared             matData
	SharedM, SharedV   matData
	SharedT            int
	EncPos             matData
	EncPosM, EncPosV   matData
	EncPosT            int
	DecPos             matData
	DecPosM, DecPosV   matData
	DecPosT            int
	Encoder            []encLayerData
	Decoder            []decLayerData
}

func packMats(ms []*mat.Dense) []matData {
	out := make([]matData, len(ms))
	for i, m := range ms {
		out[i] = packMat(m)
	}
	return out
}

func unpackMats(ds []matData) []*mat.Dense {
	out := make([]*mat.Dense, len(ds))
	for i, d := range ds {
		out[i] = unpackMat(d)
	}
	return out
}

func packAttn(a *Attention) attnData {
	return attnData{
		Wq: packMats(a.Wquery), Wk: packMats(a.Wkey), Wv: packMats(a.Wvalue),
		Wo:  packMat(a.Woutput),
		MWq: packMats(a.MWq), VWq: packMats(a.VWq),
		MWk: packMats(a.MWk), VWk: packMats(a.VWk),
		MWv: packMats(a.MWv), VWv: packMats(a.VWv),
		MWo: packMat(a.MWo), VWo: packMat(a.VWo),
		T: a.T,
	}
}

func unpackAttn(a *Attention, d attnData) {
	a.Wquery = unpackMats(d.Wq)
	a.Wkey = unpackMats(d.Wk)
	a.Wvalue = unpackMats(d.Wv)
	a.Woutput = unpackMat(d.Wo)
	a.MWq, a.VWq = unpackMats(d.MWq), unpackMats(d.VWq)
	a.MWk, a.VWk = unpackMats(d.MWk), unpackMats(d.VWk)
	a.MWv, a.VWv = unpackMats(d.MWv), unpackMats(d.VWv)
	a.MWo, a.VWo = unpackMat(d.MWo), unpackMat(d.VWo)
	a.T = d.T
}

func packMLP(m *MLP) mlpData {
	return mlpData{
		HiddenW: packMat(m.HiddenWeights), HiddenB: packMat(m.HiddenBias),
		OutputW: packMat(m.OutputWeights), OutputB: packMat(m.OutputBias),
		MHiddenW: packMat(m.MHiddenW), VHiddenW: packMat(m.VHiddenW),
		MHiddenB: packMat(m.MHiddenB), VHiddenB: packMat(m.VHiddenB),
		MOutputW: packMat(m.MOutputW), VOutputW: packMat(m.VOutputW),
		MOutputB: packMat(m.MOutputB), VOutputB: packMat(m.VOutputB),
		T: m.T,
	}
}

func unpackMLP(m *MLP, d mlpData) {
	m.HiddenWeights, m.HiddenBias = unpackMat(d.HiddenW), unpackMat(d.HiddenB)
	m.OutputWeights, m.OutputBias = unpackMat(d.OutputW), unpackMat(d.OutputB)
	m.MHiddenW, m.VHiddenW = unpackMat(d.MHiddenW), unpackMat(d.VHiddenW)
	m.MHiddenB, m.VHiddenB = unpackMat(d.MHiddenB), unpackMat(d.VHiddenB)
	m.MOutputW, m.VOutputW = unpackMat(d.MOutputW), unpackMat(d.VOutputW)
	m.MOutputB, m.VOutputB = unpackMat(d.MOutputB), unpackMat(d.VOutputB)
	m.T = d.T
}

func packLN(l *optimizations.LayerNorm) lnData {
	return lnData{
		Gamma: packMat(l.Gamma), Beta: packMat(l.Beta),
		MGamma: packMat(l.MGamma), VGamma: packMat(l.VGamma),
		MBeta: packMat(l.MBeta), VBeta: packMat(l.VBeta),
		T: l.T,
	}
}

func unpackLN(l *optimizations.LayerNorm, d lnData) {
	l.Gamma, l.Beta = unpackMat(d.Gamma), unpackMat(d.Beta)
	l.MGamma, l.VGamma = unpackMat(d.MGamma), unpackMat(d.VGamma)
	l.MBeta, l.VBeta = unpackMat(d.MBeta), unpackMat(d.VBeta)
	l.T = d.T
}

// SaveModel persists the full model (weights + optimizer moments) with gob
// and writes the config as JSON beside it.
func SaveModel(m *Model, path string) error {
	data := modelData{
		Cfg:     m.Cfg,
		Shared:  packMat(m.Shared),
		SharedM: packMat(m.SharedM), SharedV: packMat(m.SharedV), SharedT: m.SharedT,
		EncPos:  packMat(m.EncPos),
		EncPosM: packMat(m.EncPosM), EncPosV: packMat(m.EncPosV), EncPosT: m.EncPosT,
		DecPos:  packMat(m.DecPos),
		DecPosM: packMat(m.DecPosM), DecPosV: packMat(m.DecPosV), DecPosT: m.DecPosT,
	}
	for _, l := range m.Encoder {
		data.Encoder = append(data.Encoder, encLayerData{
			Attn: packAttn(l.SelfAttn),
			Mlp:  packMLP(l.Mlp),
			Ln1:  packLN(l.Ln1),
			Ln2:  packLN(l.Ln2),
		})
	}
	for _, l := range m.Decoder {
		data.Decoder = append(data.Decoder, decLayerData{
			SelfAttn:  packAttn(l.SelfAttn),
			CrossAttn: packAttn(l.CrossAttn),
			Mlp:       packMLP(l.Mlp),
			Ln1:       packLN(l.Ln1),
			Ln2:       packLN(l.Ln2),
			Ln3:       packLN(l.Ln3),
		})
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return err
	}
	return SaveConfig(m.Cfg, path+".json")
}

// LoadModel restores a model saved by SaveModel.
func LoadModel(path string) (*Model, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var data modelData
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&data); err != nil {
		return nil, fmt.Errorf("LoadModel %s: %w", path, err)
	}
	if err := data.Cfg.Validate(); err != nil {
		return nil, err
	}

	m := NewModel(data.Cfg)
	if len(m.Encoder) != len(data.Encoder) || len(m.Decoder) != len(data.Decoder) {
		return nil, fmt.Errorf("LoadModel: layer mismatch (have %d/%d, file %d/%d)",
			len(m.Encoder), len(m.Decoder), len(data.Encoder), len(data.Decoder))
	}

	m.Shared = unpackMat(data.Shared)
	m.SharedM, m.SharedV, m.SharedT = unpackMat(data.SharedM), unpackMat(data.SharedV), data.SharedT
	m.EncPos = unpackMat(data.EncPos)
	m.EncPosM, m.EncPosV, m.EncPosT = unpackMat(data.EncPosM), unpackMat(data.EncPosV), data.EncPosT
	m.DecPos = unpackMat(data.DecPos)
	m.DecPosM, m.DecPosV, m.DecPosT = unpackMat(data.DecPosM), unpackMat(data.DecPosV), data.DecPosT

	for i, ld := range data.Encoder {
		unpackAttn(m.Encoder[i].SelfAttn, ld.Attn)
		unpackMLP(m.Encoder[i].Mlp, ld.Mlp)
		unpackLN(m.Encoder[i].Ln1, ld.Ln1)
		unpackLN(m.Encoder[i].Ln2, ld.Ln2)
	}
	for i, ld := range data.Decoder {
		unpackAttn(m.Decoder[i].SelfAttn, ld.SelfAttn)
		unpackAttn(m.Decoder[i].CrossAttn, ld.CrossAttn)
		unpackMLP(m.Decoder[i].Mlp, ld.Mlp)
		unpackLN(m.Decoder[i].Ln1, ld.Ln1)
		unpackLN(m.Decoder[i].Ln2, ld.Ln2)
		unpackLN(m.Decoder[i].Ln3, ld.Ln3)
	}
	return m, nil
}
